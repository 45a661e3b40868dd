package published

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsIngest/internal/domain"
)

// Weights is the fixed per-family priority. It doubles as the persisted confidence.
var Weights = map[domain.DateSource]int{
	domain.DateFromFeed:             95,
	domain.DateFromJSONLD:           90,
	domain.DateFromMeta:             80,
	domain.DateFromListing:          75,
	domain.DateFromTimeTag:          70,
	domain.DateFromFeedUpdated:      65,
	domain.DateFromText:             60,
	domain.DateFromRelative:         55,
	domain.DateFromURL:              50,
	domain.DateFromJSONLDModified:   40,
	domain.DateFromSitemap:          30,
	domain.DateFromHTTPLastModified: 20,
	domain.DateFromHTTPDate:         10,
}

const (
	earliestYear = 1995
	futureSlack  = 48 * time.Hour
)

// Signals is everything known about one item when resolving its date.
// Every field is optional.
type Signals struct {
	URL            string
	HTML           string
	Doc            *goquery.Document
	Hint           string
	HintAt         *time.Time
	HintKind       domain.HintKind
	FeedUpdated    string
	FeedUpdatedAt  *time.Time
	SitemapLastmod string
	Headers        http.Header
	Now            time.Time
}

// Resolution is the resolver's best estimate. A zero Resolution means unresolved.
type Resolution struct {
	PublishedAt *time.Time
	Raw         string
	Source      domain.DateSource
	Confidence  int
	Timezone    string
	Considered  int
}

// Resolved reports whether any candidate parsed.
func (r Resolution) Resolved() bool {
	return r.PublishedAt != nil
}

// Patch converts the resolution to the merge input.
func (r Resolution) Patch() domain.Opt[domain.PublishedPatch] {
	if r.PublishedAt == nil {
		return domain.None[domain.PublishedPatch]()
	}
	return domain.Some(domain.PublishedPatch{
		At:         *r.PublishedAt,
		Raw:        r.Raw,
		Source:     r.Source,
		Confidence: r.Confidence,
		Timezone:   r.Timezone,
	})
}

// Resolver fuses independent date signals into one published date.
type Resolver struct{}

// NewResolver returns a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve never fails: bad signals simply contribute no candidates.
func (r *Resolver) Resolve(sig Signals) Resolution {
	candidates := r.Candidates(sig)
	best, ok := Best(candidates)
	if !ok {
		return Resolution{Considered: len(candidates)}
	}
	at := best.Time
	return Resolution{
		PublishedAt: &at,
		Raw:         best.Raw,
		Source:      best.Source,
		Confidence:  best.Confidence,
		Timezone:    best.Timezone,
		Considered:  len(candidates),
	}
}

// Candidates runs every extractor and returns the valid candidates.
func (r *Resolver) Candidates(sig Signals) []domain.DateCandidate {
	now := sig.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	doc := sig.Doc
	if doc == nil && strings.TrimSpace(sig.HTML) != "" {
		if parsed, err := goquery.NewDocumentFromReader(strings.NewReader(sig.HTML)); err == nil {
			doc = parsed
		}
	}

	var raw []domain.DateCandidate
	raw = append(raw, fromHint(sig.Hint, sig.HintAt, sig.HintKind, now)...)
	if c, ok := fromParsed(sig.FeedUpdated, sig.FeedUpdatedAt, domain.DateFromFeedUpdated); ok {
		raw = append(raw, c)
	} else {
		raw = append(raw, fromMachine(sig.FeedUpdated, domain.DateFromFeedUpdated)...)
	}
	raw = append(raw, fromURL(sig.URL)...)
	if doc != nil {
		raw = append(raw, fromJSONLD(doc)...)
		raw = append(raw, fromMeta(doc)...)
		raw = append(raw, fromTimeTags(doc)...)
		raw = append(raw, fromVisibleText(doc)...)
		raw = append(raw, fromRelativeText(doc, now)...)
	}
	raw = append(raw, fromMachine(sig.SitemapLastmod, domain.DateFromSitemap)...)

	valid := validOnly(raw, now)
	if len(valid) > 0 {
		return valid
	}
	return validOnly(fromHeaders(sig.Headers), now)
}

// Best picks the highest-weight candidate; exact ties go to the earliest time,
// then to the lexically smallest raw text so the pick never depends on order.
func Best(candidates []domain.DateCandidate) (domain.DateCandidate, bool) {
	if len(candidates) == 0 {
		return domain.DateCandidate{}, false
	}
	sorted := append([]domain.DateCandidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Raw < b.Raw
	})
	return sorted[0], true
}

func validOnly(in []domain.DateCandidate, now time.Time) []domain.DateCandidate {
	out := make([]domain.DateCandidate, 0, len(in))
	limit := now.Add(futureSlack)
	for _, c := range in {
		if c.Time.IsZero() || c.Time.Year() < earliestYear || c.Time.After(limit) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func newCandidate(t time.Time, raw string, src domain.DateSource, tz string) domain.DateCandidate {
	return domain.DateCandidate{
		Time:       t.UTC(),
		Raw:        raw,
		Source:     src,
		Confidence: Weights[src],
		Timezone:   tz,
	}
}
