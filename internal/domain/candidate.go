package domain

import "time"

// HintKind tells the resolver which signal family produced Candidate.PublishedHint.
type HintKind string

const (
	HintFeed    HintKind = "feed"
	HintSitemap HintKind = "sitemap"
	HintListing HintKind = "listing"
)

// Candidate is a raw, unvalidated item yielded by a source gateway.
type Candidate struct {
	Title         string
	Link          string
	PublishedHint string
	HintKind      HintKind
	Updated       string
	Description   string
	Author        string
	ImageURL      string
	Categories    []string

	// PublishedAt and UpdatedAt hold times the adapter already parsed. The raw
	// text stays in PublishedHint and Updated.
	PublishedAt *time.Time
	UpdatedAt   *time.Time
}

// DateSource tags the signal family a published date came from.
type DateSource string

const (
	DateFromFeed             DateSource = "feed"
	DateFromJSONLD           DateSource = "jsonld"
	DateFromMeta             DateSource = "meta"
	DateFromListing          DateSource = "listing"
	DateFromTimeTag          DateSource = "time"
	DateFromFeedUpdated      DateSource = "feed_updated"
	DateFromText             DateSource = "text"
	DateFromRelative         DateSource = "relative"
	DateFromURL              DateSource = "url"
	DateFromJSONLDModified   DateSource = "jsonld_modified"
	DateFromSitemap          DateSource = "sitemap"
	DateFromHTTPLastModified DateSource = "http_last_modified"
	DateFromHTTPDate         DateSource = "http_date"
)

// DateCandidate is one published-date guess produced by a single extractor.
type DateCandidate struct {
	Time       time.Time
	Raw        string
	Source     DateSource
	Confidence int
	Timezone   string
}
