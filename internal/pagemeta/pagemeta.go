// Package pagemeta reads article-level metadata out of a fetched page.
package pagemeta

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"NewsIngest/internal/jsonld"
)

// Meta is what a page says about itself. Every field may be empty.
type Meta struct {
	CanonicalURL string
	Title        string
	Author       string
	Description  string
	ImageURL     string
}

// Extract reads Meta from doc; relative URLs are resolved against base.
func Extract(doc *goquery.Document, base string) Meta {
	if doc == nil {
		return Meta{}
	}
	ld := structured(doc)
	return Meta{
		CanonicalURL: absolute(base, attrOf(doc, `link[rel="canonical"]`, "href")),
		Title:        title(doc, ld),
		Author:       author(doc, ld),
		Description:  firstNonEmpty(metaContent(doc, "og:description", "description", "twitter:description")),
		ImageURL:     absolute(base, firstNonEmpty(metaContent(doc, "og:image", "og:image:url", "og:image:secure_url", "twitter:image", "twitter:image:src"))),
	}
}

// ImageCandidates lists every image the page advertises, in preference order.
func ImageCandidates(doc *goquery.Document, base string) []string {
	if doc == nil {
		return nil
	}
	var raw []string
	raw = append(raw, metaContent(doc, "og:image", "og:image:url", "og:image:secure_url", "twitter:image", "twitter:image:src")...)
	raw = append(raw, attrOf(doc, `link[rel="image_src"]`, "href"))
	doc.Find(`[itemprop="image"]`).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"content", "src", "href"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				raw = append(raw, v)
				return
			}
		}
	})
	for _, v := range structured(doc) {
		raw = append(raw, jsonld.Names(v, "image", "url")...)
		raw = append(raw, jsonld.Names(v, "thumbnailUrl", "url")...)
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		abs := absolute(base, v)
		if abs == "" {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

func structured(doc *goquery.Document) []jsonld.Value {
	var out []jsonld.Value
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if v, err := jsonld.DecodeScript(s.Text()); err == nil {
			out = append(out, v)
		}
	})
	return out
}

func title(doc *goquery.Document, ld []jsonld.Value) string {
	if v := firstNonEmpty(metaContent(doc, "og:title", "twitter:title")); v != "" {
		return v
	}
	for _, v := range ld {
		for _, m := range jsonld.Find(v, "headline") {
			return m.Value
		}
	}
	if v := strings.TrimSpace(doc.Find("h1").First().Text()); v != "" {
		return collapse(v)
	}
	return collapse(doc.Find("title").First().Text())
}

func author(doc *goquery.Document, ld []jsonld.Value) string {
	if v := firstNonEmpty(metaContent(doc, "author", "article:author", "parsely-author", "sailthru.author", "dc.creator")); v != "" && !strings.HasPrefix(v, "http") {
		return v
	}
	for _, v := range ld {
		if names := jsonld.Names(v, "author", "name"); len(names) > 0 {
			return strings.Join(dedupe(names), ", ")
		}
	}
	if v := strings.TrimSpace(doc.Find(`[rel="author"], [itemprop="author"] [itemprop="name"], .author-name`).First().Text()); v != "" {
		return collapse(strings.TrimPrefix(v, "By "))
	}
	return ""
}

func metaContent(doc *goquery.Document, names ...string) []string {
	want := make(map[string]int, len(names))
	for i, n := range names {
		want[n] = i
	}
	found := make([]string, len(names))
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := ""
		for _, attr := range []string{"property", "name", "itemprop"} {
			if v, ok := s.Attr(attr); ok && v != "" {
				key = strings.ToLower(strings.TrimSpace(v))
				break
			}
		}
		idx, ok := want[key]
		if !ok || found[idx] != "" {
			return
		}
		if v, ok := s.Attr("content"); ok {
			found[idx] = strings.TrimSpace(v)
		}
	})
	return found
}

func attrOf(doc *goquery.Document, selector, attr string) string {
	v, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v)
}

func absolute(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ""
	}
	return b.ResolveReference(r).String()
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := in[:0:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
