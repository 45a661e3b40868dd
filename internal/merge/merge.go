// Package merge folds a partial update into a stored article without ever
// regressing a known field to empty.
package merge

import (
	"slices"
	"strings"
	"time"

	"NewsIngest/internal/domain"
)

// Field names double as storage column names.
const (
	FieldURL            = "url"
	FieldSourceID       = "source_id"
	FieldTitle          = "title"
	FieldCleanedTitle   = "cleaned_title"
	FieldAuthor         = "author"
	FieldDescription    = "description"
	FieldPublished      = "published"
	FieldDomain         = "domain"
	FieldFingerprint    = "fingerprint"
	FieldTopics         = "topics"
	FieldPrimaryTopic   = "primary_topic"
	FieldSecondaryTopic = "secondary_topic"
	FieldWeek           = "week"
	FieldPlayers        = "players"
	FieldImageURL       = "image_url"
	FieldIsStatic       = "is_static"
	FieldStaticType     = "static_type"
)

// New builds the first version of an article from a patch.
func New(canonical string, patch domain.ArticlePatch, now time.Time) domain.Article {
	a, _ := ApplyFields(domain.Article{CanonicalURL: canonical}, patch)
	a.DiscoveredAt = now
	a.UpdatedAt = now
	return a
}

// Apply merges patch into existing and reports whether anything changed.
func Apply(existing domain.Article, patch domain.ArticlePatch, now time.Time) (domain.Article, bool) {
	merged, fields := ApplyFields(existing, patch)
	if len(fields) == 0 {
		return existing, false
	}
	merged.UpdatedAt = now
	return merged, true
}

// ApplyFields is Apply without the timestamp; it returns the names of the
// fields whose value changed.
func ApplyFields(existing domain.Article, patch domain.ArticlePatch) (domain.Article, []string) {
	out := existing
	var changed []string

	str := func(name string, dst *string, opt domain.Opt[string]) {
		v, ok := opt.Get()
		v = strings.TrimSpace(v)
		if !ok || v == "" || v == *dst {
			return
		}
		*dst = v
		changed = append(changed, name)
	}
	list := func(name string, dst *[]string, opt domain.Opt[[]string]) {
		v, ok := opt.Get()
		v = compact(v)
		if !ok || len(v) == 0 || slices.Equal(v, *dst) {
			return
		}
		*dst = v
		changed = append(changed, name)
	}

	str(FieldURL, &out.URL, patch.URL)
	str(FieldSourceID, &out.SourceID, patch.SourceID)
	str(FieldTitle, &out.Title, patch.Title)
	str(FieldCleanedTitle, &out.CleanedTitle, patch.CleanedTitle)
	str(FieldAuthor, &out.Author, patch.Author)
	str(FieldDescription, &out.Description, patch.Description)
	str(FieldDomain, &out.Domain, patch.Domain)
	str(FieldFingerprint, &out.Fingerprint, patch.Fingerprint)
	list(FieldTopics, &out.Topics, patch.Topics)
	str(FieldPrimaryTopic, &out.PrimaryTopic, patch.PrimaryTopic)
	// The secondary travels with the primary: when both are present it is
	// written even if empty, so a stale secondary cannot outlive a new primary.
	if patch.PrimaryTopic.Set && patch.SecondaryTopic.Set && out.SecondaryTopic != strings.TrimSpace(patch.SecondaryTopic.Value) {
		out.SecondaryTopic = strings.TrimSpace(patch.SecondaryTopic.Value)
		changed = append(changed, FieldSecondaryTopic)
	}
	list(FieldPlayers, &out.Players, patch.Players)
	str(FieldStaticType, &out.StaticType, patch.StaticType)

	if w, ok := patch.Week.Get(); ok && (out.Week == nil || *out.Week != w) {
		week := w
		out.Week = &week
		changed = append(changed, FieldWeek)
	}
	if v, ok := patch.IsStatic.Get(); ok && v && !out.IsStatic {
		out.IsStatic = true
		changed = append(changed, FieldIsStatic)
	}
	if img, ok := patch.ImageURL.Get(); ok {
		img = strings.TrimSpace(img)
		if img != "" && img != out.ImageURL && (out.ImageURL == "" || IsLowQualityImage(out.ImageURL) || !IsLowQualityImage(img)) {
			out.ImageURL = img
			changed = append(changed, FieldImageURL)
		}
	}
	if p, ok := patch.Published.Get(); ok && !p.At.IsZero() {
		if out.PublishedAt == nil || p.Confidence >= out.PublishedConfidence {
			if samePublished(out, p) {
				return out, changed
			}
			at := p.At.UTC()
			out.PublishedAt = &at
			out.PublishedRaw = p.Raw
			out.PublishedSource = p.Source
			out.PublishedConfidence = p.Confidence
			out.PublishedTimezone = p.Timezone
			changed = append(changed, FieldPublished)
		}
	}
	return out, changed
}

func samePublished(a domain.Article, p domain.PublishedPatch) bool {
	return a.PublishedAt != nil &&
		a.PublishedAt.Equal(p.At) &&
		a.PublishedRaw == p.Raw &&
		a.PublishedSource == p.Source &&
		a.PublishedConfidence == p.Confidence &&
		a.PublishedTimezone == p.Timezone
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
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
