package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
	"NewsIngest/internal/scanner"
)

// Listing selector defaults; each can be overridden by a source option.
const (
	defaultItemSelector    = "article"
	defaultLinkSelector    = "a[href]"
	defaultTitleSelector   = "h1, h2, h3"
	defaultDateSelector    = "time"
	defaultSummarySelector = "p"
	defaultMaxPages        = 1
)

// HTMLScanner scrapes listing pages with CSS selectors taken from the source
// options: item, link, title, date, summary, image, next and max_pages.
type HTMLScanner struct {
	fetcher ports.PageFetcher
}

var _ scanner.Scanner = (*HTMLScanner)(nil)

// NewHTMLScanner wires a page fetcher.
func NewHTMLScanner(fetcher ports.PageFetcher) *HTMLScanner {
	return &HTMLScanner{fetcher: fetcher}
}

// Name identifies the strategy inside the registry.
func (h *HTMLScanner) Name() string {
	return "html"
}

// Scan walks the listing (following the "next" link up to max_pages) and
// returns one candidate per item.
func (h *HTMLScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no listing url for source %s", req.SourceID)
	}
	sel := selectorsFor(req)

	var (
		results []domain.Candidate
		seen    = map[string]struct{}{}
		pageURL = req.URL
		visited = map[string]struct{}{}
	)
	for page := 0; page < sel.maxPages && pageURL != ""; page++ {
		if _, ok := visited[pageURL]; ok {
			break
		}
		visited[pageURL] = struct{}{}

		doc, finalURL, err := h.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", pageURL, err)
		}

		for _, c := range extractListing(doc, finalURL, sel) {
			if _, ok := seen[c.Link]; ok {
				continue
			}
			seen[c.Link] = struct{}{}
			results = append(results, c)
			if req.Limit > 0 && len(results) >= req.Limit {
				return results, nil
			}
		}

		pageURL = ""
		if sel.next != "" {
			if href, ok := doc.Find(sel.next).First().Attr("href"); ok {
				pageURL = resolve(finalURL, href)
			}
		}
	}
	return results, nil
}

func (h *HTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, string, error) {
	page, err := h.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("request document: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, "", fmt.Errorf("parse document: %w", err)
	}
	final := page.URL
	if final == "" {
		final = pageURL
	}
	return doc, final, nil
}

type selectors struct {
	item, link, title, date, summary, image, next string
	maxPages                                      int
}

func selectorsFor(req scanner.Request) selectors {
	item := req.Option("item", req.Selector)
	if item == "" {
		item = defaultItemSelector
	}
	maxPages, err := strconv.Atoi(req.Option("max_pages", ""))
	if err != nil || maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return selectors{
		item:     item,
		link:     req.Option("link", defaultLinkSelector),
		title:    req.Option("title", defaultTitleSelector),
		date:     req.Option("date", defaultDateSelector),
		summary:  req.Option("summary", defaultSummarySelector),
		image:    req.Option("image", "img"),
		next:     req.Option("next", ""),
		maxPages: maxPages,
	}
}

func extractListing(doc *goquery.Document, base string, sel selectors) []domain.Candidate {
	var collected []domain.Candidate
	doc.Find(sel.item).Each(func(_ int, item *goquery.Selection) {
		c, ok := parseItem(item, base, sel)
		if ok {
			collected = append(collected, c)
		}
	})
	return collected
}

func parseItem(item *goquery.Selection, base string, sel selectors) (domain.Candidate, bool) {
	link := item
	if !item.Is("a[href]") {
		link = item.Find(sel.link).First()
	}
	href, ok := link.Attr("href")
	if !ok {
		return domain.Candidate{}, false
	}
	href = resolve(base, href)
	if href == "" {
		return domain.Candidate{}, false
	}

	title := collapse(item.Find(sel.title).First().Text())
	if title == "" {
		title = collapse(link.Text())
	}
	if title == "" {
		title = strings.TrimSpace(link.AttrOr("title", ""))
	}

	dateNode := item.Find(sel.date).First()
	dateText := strings.TrimSpace(dateNode.AttrOr("datetime", ""))
	if dateText == "" {
		dateText = collapse(dateNode.Text())
	}

	image := ""
	if img := item.Find(sel.image).First(); img.Length() > 0 {
		src := img.AttrOr("src", "")
		if src == "" || strings.HasPrefix(src, "data:") {
			src = img.AttrOr("data-src", "")
		}
		image = resolve(base, src)
	}

	return domain.Candidate{
		Title:         title,
		Link:          href,
		PublishedHint: dateText,
		HintKind:      domain.HintListing,
		Description:   collapse(item.Find(sel.summary).First().Text()),
		ImageURL:      image,
	}, true
}

func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "mailto:") {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return r.String()
	}
	return b.ResolveReference(r).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
