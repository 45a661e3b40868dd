package domain

import "time"

// Article is the canonical stored record, keyed by CanonicalURL.
type Article struct {
	CanonicalURL        string
	URL                 string
	SourceID            string
	Title               string
	CleanedTitle        string
	Author              string
	Description         string
	PublishedAt         *time.Time
	PublishedRaw        string
	PublishedSource     DateSource
	PublishedConfidence int
	PublishedTimezone   string
	Domain              string
	Fingerprint         string
	Topics              []string
	PrimaryTopic        string
	SecondaryTopic      string
	Week                *int
	Players             []string
	ImageURL            string
	ImageCheckedAt      *time.Time
	IsStatic            bool
	StaticType          string
	DiscoveredAt        time.Time
	UpdatedAt           time.Time
}

// Identity carries every key an incoming item may already be stored under.
// Canonical is authoritative; the rest are looked up to collapse near-duplicates.
type Identity struct {
	Canonical      string
	URL            string
	ProbeCanonical string
}

// Alternates returns the non-empty identity variants other than Canonical.
func (i Identity) Alternates() []string {
	var out []string
	seen := map[string]struct{}{i.Canonical: {}}
	for _, v := range []string{i.URL, i.ProbeCanonical} {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// UpsertResult reports what the merger did with one item.
type UpsertResult struct {
	Inserted bool
	Changed  bool
	Article  Article
}
