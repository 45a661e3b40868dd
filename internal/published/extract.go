package published

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/jsonld"
)

const maxBodyScan = 20000

var (
	urlSlashDateExpr = regexp.MustCompile(`/((?:19|20)\d{2})/(\d{1,2})/(\d{1,2})(?:/|$)`)
	urlDashDateExpr  = regexp.MustCompile(`(?:^|[/_-])((?:19|20)\d{2})-(\d{2})-(\d{2})(?:[/_.-]|$)`)
	labelExpr        = regexp.MustCompile(`(?i)\b(?:published|posted|first published)(?:\s+on)?\s*:?\s*((?:(?:Mon|Tues?|Wed(?:nes)?|Thu(?:rs)?|Fri|Sat(?:ur)?|Sun)[a-z]*,?\s+)?(?:[A-Z][a-z]{2,8}\.?\s+\d{1,2},?\s+\d{4}|\d{1,2}\s+[A-Z][a-z]{2,8}\.?\s+\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})(?:,?\s+(?:at\s+)?\d{1,2}:\d{2}\s*(?:[aApP]\.?[mM]\.?)?)?(?:\s+(?:[ECMP][SD]?T|UTC|GMT)\b)?)`)
	relativeExpr     = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|wks?|w)\s+ago\b`)
	yesterdayExpr    = regexp.MustCompile(`(?i)\byesterday\b`)
)

var metaDateNames = map[string]struct{}{
	"article:published_time":       {},
	"og:article:published_time":    {},
	"og:published_time":            {},
	"article:published":            {},
	"published_time":               {},
	"pubdate":                      {},
	"publishdate":                  {},
	"publish-date":                 {},
	"publish_date":                 {},
	"publication_date":             {},
	"date":                         {},
	"dc.date.issued":               {},
	"dc.date":                      {},
	"dc.date.created":              {},
	"dcterms.created":              {},
	"dcterms.issued":               {},
	"dcterms.date":                 {},
	"sailthru.date":                {},
	"parsely-pub-date":             {},
	"cxenseparse:recs:publishtime": {},
	"article.published":            {},
	"article.created":              {},
	"datepublished":                {},
	"originalpublicationdate":      {},
}

var bylineSelector = "time, .date, .byline, .timestamp, .dateline, [class*='publish'], [class*='posted'], [class*='date'], [class*='time']"

func fromHint(hint string, at *time.Time, kind domain.HintKind, now time.Time) []domain.DateCandidate {
	hint = strings.TrimSpace(hint)
	src := domain.DateFromListing
	switch kind {
	case domain.HintFeed:
		src = domain.DateFromFeed
	case domain.HintSitemap:
		src = domain.DateFromSitemap
	}
	if c, ok := fromParsed(hint, at, src); ok {
		return []domain.DateCandidate{c}
	}
	if hint == "" {
		return nil
	}
	if t, tz, ok := parseMachine(hint); ok {
		return []domain.DateCandidate{newCandidate(t, hint, src, tz)}
	}
	if t, tz, ok := parseText(hint); ok {
		return []domain.DateCandidate{newCandidate(t, hint, src, tz)}
	}
	if c, ok := ParseRelative(hint, now); ok {
		return []domain.DateCandidate{c}
	}
	return nil
}

// fromParsed builds a candidate from a time an adapter already parsed. raw is
// kept for display only.
func fromParsed(raw string, at *time.Time, src domain.DateSource) (domain.DateCandidate, bool) {
	if at == nil || at.IsZero() {
		return domain.DateCandidate{}, false
	}
	t := namedZone(*at)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = t.Format(time.RFC3339)
	}
	return newCandidate(t, raw, src, zoneLabel(t)), true
}

func fromMachine(raw string, src domain.DateSource) []domain.DateCandidate {
	t, tz, ok := parseMachine(raw)
	if !ok {
		return nil
	}
	return []domain.DateCandidate{newCandidate(t, strings.TrimSpace(raw), src, tz)}
}

func fromURL(raw string) []domain.DateCandidate {
	if raw == "" {
		return nil
	}
	path := raw
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.Index(path, "/"); j >= 0 {
			path = path[j:]
		} else {
			return nil
		}
	}

	var out []domain.DateCandidate
	for _, expr := range []*regexp.Regexp{urlSlashDateExpr, urlDashDateExpr} {
		m := expr.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		t, ok := civilDate(m[1], m[2], m[3])
		if !ok {
			continue
		}
		out = append(out, newCandidate(t, strings.Trim(m[0], "/_-."), domain.DateFromURL, ""))
	}
	return out
}

func civilDate(y, m, d string) (time.Time, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func fromJSONLD(doc *goquery.Document) []domain.DateCandidate {
	var out []domain.DateCandidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		v, err := jsonld.DecodeScript(s.Text())
		if err != nil {
			return
		}
		for _, m := range jsonld.Find(v, "datePublished", "dateCreated", "dateModified") {
			src := domain.DateFromJSONLD
			if m.Key == "dateModified" {
				src = domain.DateFromJSONLDModified
			}
			t, tz, ok := parseMachine(m.Value)
			if !ok {
				continue
			}
			out = append(out, newCandidate(t, m.Value, src, tz))
		}
	})
	return out
}

func fromMeta(doc *goquery.Document) []domain.DateCandidate {
	var out []domain.DateCandidate
	doc.Find("meta, [itemprop]").Each(func(_ int, s *goquery.Selection) {
		key := ""
		for _, attr := range []string{"property", "name", "itemprop", "http-equiv"} {
			if v, ok := s.Attr(attr); ok && v != "" {
				key = strings.ToLower(strings.TrimSpace(v))
				break
			}
		}
		if _, ok := metaDateNames[key]; !ok {
			return
		}
		value := ""
		for _, attr := range []string{"content", "datetime", "value"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				value = strings.TrimSpace(v)
				break
			}
		}
		if value == "" {
			return
		}
		t, tz, ok := parseMachine(value)
		if !ok {
			return
		}
		out = append(out, newCandidate(t, value, domain.DateFromMeta, tz))
	})
	return out
}

func fromTimeTags(doc *goquery.Document) []domain.DateCandidate {
	var out []domain.DateCandidate
	preferred := doc.Find("time[datetime][pubdate], time[datetime][itemprop='datePublished'], time[datetime][class*='publish'], article time[datetime]")
	if preferred.Length() == 0 {
		preferred = doc.Find("time[datetime]").First()
	}
	preferred.Each(func(_ int, s *goquery.Selection) {
		value, _ := s.Attr("datetime")
		t, tz, ok := parseMachine(value)
		if !ok {
			return
		}
		out = append(out, newCandidate(t, strings.TrimSpace(value), domain.DateFromTimeTag, tz))
	})
	return out
}

func fromVisibleText(doc *goquery.Document) []domain.DateCandidate {
	for _, text := range []string{bylineText(doc), bodyText(doc)} {
		for _, m := range labelExpr.FindAllStringSubmatch(text, 3) {
			t, tz, ok := parseText(m[1])
			if !ok {
				continue
			}
			return []domain.DateCandidate{newCandidate(t, strings.TrimSpace(m[0]), domain.DateFromText, tz)}
		}
	}
	return nil
}

func fromRelativeText(doc *goquery.Document, now time.Time) []domain.DateCandidate {
	if c, ok := ParseRelative(bylineText(doc), now); ok {
		return []domain.DateCandidate{c}
	}
	return nil
}

// ParseRelative resolves phrases like "45m ago" or "3 hours ago" against now.
func ParseRelative(text string, now time.Time) (domain.DateCandidate, bool) {
	if now.IsZero() {
		return domain.DateCandidate{}, false
	}
	if m := relativeExpr.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return domain.DateCandidate{}, false
		}
		unit := relativeUnit(strings.ToLower(m[2]))
		if unit == 0 {
			return domain.DateCandidate{}, false
		}
		return newCandidate(now.Add(-time.Duration(n)*unit), m[0], domain.DateFromRelative, ""), true
	}
	if m := yesterdayExpr.FindString(text); m != "" {
		return newCandidate(now.Add(-24*time.Hour), m, domain.DateFromRelative, ""), true
	}
	return domain.DateCandidate{}, false
}

func relativeUnit(u string) time.Duration {
	switch {
	case u == "s" || strings.HasPrefix(u, "sec"):
		return time.Second
	case u == "m" || strings.HasPrefix(u, "min"):
		return time.Minute
	case u == "h" || strings.HasPrefix(u, "h"):
		return time.Hour
	case u == "d" || strings.HasPrefix(u, "day"):
		return 24 * time.Hour
	case u == "w" || strings.HasPrefix(u, "w"):
		return 7 * 24 * time.Hour
	}
	return 0
}

func fromHeaders(h http.Header) []domain.DateCandidate {
	if h == nil {
		return nil
	}
	var out []domain.DateCandidate
	if v := h.Get("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			out = append(out, newCandidate(t, v, domain.DateFromHTTPLastModified, "GMT"))
		}
	}
	if v := h.Get("Date"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			out = append(out, newCandidate(t, v, domain.DateFromHTTPDate, "GMT"))
		}
	}
	return out
}

func bylineText(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find(bylineSelector).Each(func(_ int, s *goquery.Selection) {
		if b.Len() > maxBodyScan {
			return
		}
		b.WriteString(strings.TrimSpace(s.Text()))
		b.WriteString("\n")
	})
	return b.String()
}

func bodyText(doc *goquery.Document) string {
	text := doc.Find("body").Text()
	if len(text) > maxBodyScan {
		text = text[:maxBodyScan]
	}
	return spaceExpr.ReplaceAllString(text, " ")
}
