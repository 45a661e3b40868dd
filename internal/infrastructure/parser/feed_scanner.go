package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
	"NewsIngest/internal/scanner"
)

// FeedScanner reads RSS and Atom feeds.
type FeedScanner struct {
	fetcher ports.PageFetcher
}

var _ scanner.Scanner = (*FeedScanner)(nil)

// NewFeedScanner wires a page fetcher.
func NewFeedScanner(fetcher ports.PageFetcher) *FeedScanner {
	return &FeedScanner{fetcher: fetcher}
}

// Name identifies the strategy inside the registry.
func (f *FeedScanner) Name() string {
	return "feed"
}

// Scan downloads the feed and converts its entries in document order.
func (f *FeedScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no feed url for source %s", req.SourceID)
	}
	page, err := f.fetcher.FetchPage(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("download feed: %w", err)
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	out := make([]domain.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		out = append(out, candidateFromItem(item))
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

func candidateFromItem(item *gofeed.Item) domain.Candidate {
	c := domain.Candidate{
		Title:         strings.TrimSpace(item.Title),
		Link:          strings.TrimSpace(item.Link),
		PublishedHint: strings.TrimSpace(item.Published),
		HintKind:      domain.HintFeed,
		Updated:       strings.TrimSpace(item.Updated),
		Description:   plainText(item.Description),
		Categories:    item.Categories,
		PublishedAt:   item.PublishedParsed,
		UpdatedAt:     item.UpdatedParsed,
	}
	if c.Link == "" {
		c.Link = strings.TrimSpace(item.GUID)
	}
	switch {
	case item.Author != nil && item.Author.Name != "":
		c.Author = item.Author.Name
	case len(item.Authors) > 0 && item.Authors[0] != nil:
		c.Author = item.Authors[0].Name
	}
	if item.Image != nil {
		c.ImageURL = item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if c.ImageURL == "" && enc != nil && strings.HasPrefix(enc.Type, "image/") {
			c.ImageURL = enc.URL
		}
	}
	return c
}

// plainText strips markup from a feed description.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "<") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
