// Package images looks up a representative picture for an article page.
package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"NewsIngest/internal/merge"
	"NewsIngest/internal/pagemeta"
	"NewsIngest/internal/ports"
)

// Finder implements ports.ImageFinder on top of a page fetcher.
type Finder struct {
	fetcher ports.PageFetcher
	logger  *slog.Logger
}

var _ ports.ImageFinder = (*Finder)(nil)

// NewFinder wires a fetcher.
func NewFinder(fetcher ports.PageFetcher, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Finder{fetcher: fetcher, logger: logger.With("component", "images")}
}

// FindImage fetches the page and picks the first acceptable image. No image
// is not an error: it returns "".
func (f *Finder) FindImage(ctx context.Context, pageURL string) (string, error) {
	page, err := f.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("find image: %w", err)
	}
	base := page.URL
	if base == "" {
		base = pageURL
	}
	img := FromHTML(page.Body, base)
	f.logger.Debug("image lookup", "url", pageURL, "found", img != "")
	return img, nil
}

// FromHTML picks an image out of an already fetched page: advertised meta
// images first, then the readability lead image.
func FromHTML(body []byte, pageURL string) string {
	if len(body) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		for _, c := range pagemeta.ImageCandidates(doc, pageURL) {
			if !merge.IsLowQualityImage(c) {
				return c
			}
		}
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil || article.Image == "" || merge.IsLowQualityImage(article.Image) {
		return ""
	}
	return article.Image
}
