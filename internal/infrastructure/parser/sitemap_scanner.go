package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
	"NewsIngest/internal/scanner"
)

// SitemapScanner reads XML sitemaps, including Google News extensions. A
// sitemap index is expanded one level deep.
type SitemapScanner struct {
	fetcher ports.PageFetcher
}

var _ scanner.Scanner = (*SitemapScanner)(nil)

// NewSitemapScanner wires a page fetcher.
func NewSitemapScanner(fetcher ports.PageFetcher) *SitemapScanner {
	return &SitemapScanner{fetcher: fetcher}
}

// Name identifies the strategy inside the registry.
func (s *SitemapScanner) Name() string {
	return "sitemap"
}

type urlSet struct {
	URLs []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string      `xml:"loc"`
	LastMod string      `xml:"lastmod"`
	News    sitemapNews `xml:"news"`
	Image   struct {
		Loc string `xml:"loc"`
	} `xml:"image"`
}

type sitemapNews struct {
	Title           string `xml:"title"`
	PublicationDate string `xml:"publication_date"`
	Keywords        string `xml:"keywords"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Scan downloads the sitemap and returns its entries in document order.
func (s *SitemapScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no sitemap url for source %s", req.SourceID)
	}
	body, err := s.download(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	if isIndex(body) {
		var idx sitemapIndex
		if err := xml.Unmarshal(body, &idx); err != nil {
			return nil, fmt.Errorf("parse sitemap index: %w", err)
		}
		var out []domain.Candidate
		for _, child := range idx.Sitemaps {
			loc := strings.TrimSpace(child.Loc)
			if loc == "" {
				continue
			}
			childBody, err := s.download(ctx, loc)
			if err != nil {
				return nil, err
			}
			items, err := parseURLSet(childBody, req.Limit-len(out))
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
			if req.Limit > 0 && len(out) >= req.Limit {
				break
			}
		}
		return out, nil
	}
	return parseURLSet(body, req.Limit)
}

func (s *SitemapScanner) download(ctx context.Context, u string) ([]byte, error) {
	page, err := s.fetcher.FetchPage(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("download sitemap: %w", err)
	}
	return page.Body, nil
}

func isIndex(body []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local == "sitemapindex"
		}
	}
}

// parseURLSet converts a urlset; limit <= 0 means unbounded.
func parseURLSet(body []byte, limit int) ([]domain.Candidate, error) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	out := make([]domain.Candidate, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		c := domain.Candidate{
			Title:         strings.TrimSpace(u.News.Title),
			Link:          loc,
			PublishedHint: strings.TrimSpace(u.News.PublicationDate),
			HintKind:      domain.HintSitemap,
			Updated:       strings.TrimSpace(u.LastMod),
			ImageURL:      strings.TrimSpace(u.Image.Loc),
		}
		if kw := strings.TrimSpace(u.News.Keywords); kw != "" {
			for _, k := range strings.Split(kw, ",") {
				if k = strings.TrimSpace(k); k != "" {
					c.Categories = append(c.Categories, k)
				}
			}
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
