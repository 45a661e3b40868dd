package merge

import (
	"reflect"
	"testing"
	"time"

	"NewsIngest/internal/domain"
)

var (
	t0 = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func TestApplyTitleNonRegression(t *testing.T) {
	t.Parallel()

	stored := New("https://site.com/a", domain.ArticlePatch{Title: domain.SomeString("A")}, t0)

	got, changed := Apply(stored, domain.ArticlePatch{Title: domain.None[string]()}, t1)
	if changed || got.Title != "A" {
		t.Fatalf("absent title: changed=%v title=%q", changed, got.Title)
	}
	got, changed = Apply(stored, domain.ArticlePatch{Title: domain.Some("  ")}, t1)
	if changed || got.Title != "A" {
		t.Fatalf("blank title: changed=%v title=%q", changed, got.Title)
	}
	got, changed = Apply(stored, domain.ArticlePatch{Title: domain.SomeString("B")}, t1)
	if !changed || got.Title != "B" {
		t.Fatalf("new title: changed=%v title=%q", changed, got.Title)
	}
	if !got.UpdatedAt.Equal(t1) || !got.DiscoveredAt.Equal(t0) {
		t.Fatalf("timestamps: discovered=%v updated=%v", got.DiscoveredAt, got.UpdatedAt)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	week := 3
	patch := domain.ArticlePatch{
		URL:            domain.SomeString("https://www.site.com/a/"),
		Title:          domain.SomeString("Week 3 waivers"),
		Author:         domain.SomeString("Jane"),
		Topics:         domain.SomeStrings([]string{"waiver-wire", "rankings", "waiver-wire"}),
		PrimaryTopic:   domain.SomeString("waiver-wire"),
		SecondaryTopic: domain.Some("rankings"),
		Week:           domain.Some(week),
		Players:        domain.SomeStrings([]string{"Puka Nacua"}),
		ImageURL:       domain.SomeString("https://cdn.site.com/hero.jpg"),
		Published: domain.Some(domain.PublishedPatch{
			At: t0, Raw: "2024-09-01T12:00:00Z", Source: domain.DateFromJSONLD, Confidence: 90,
		}),
	}

	first := New("https://site.com/a", patch, t0)
	if !reflect.DeepEqual(first.Topics, []string{"waiver-wire", "rankings"}) {
		t.Fatalf("topics = %v", first.Topics)
	}
	second, changed := Apply(first, patch, t1)
	if changed {
		t.Fatalf("re-applying the same patch should be a no-op")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("article changed:\n%+v\n%+v", first, second)
	}
}

func TestApplyNeverClearsKnownFields(t *testing.T) {
	t.Parallel()

	week := 5
	stored := domain.Article{
		CanonicalURL: "https://site.com/a",
		Author:       "Jane",
		Topics:       []string{"injury"},
		Week:         &week,
		ImageURL:     "https://cdn.site.com/hero.jpg",
		PublishedAt:  &t0,
	}
	got, changed := Apply(stored, domain.ArticlePatch{
		Author:   domain.SomeString(""),
		Topics:   domain.SomeStrings(nil),
		ImageURL: domain.Some(""),
	}, t1)
	if changed {
		t.Fatalf("empty values must not count as changes")
	}
	if got.Author != "Jane" || len(got.Topics) != 1 || *got.Week != 5 || got.ImageURL == "" || got.PublishedAt == nil {
		t.Fatalf("known fields regressed: %+v", got)
	}
}

func TestApplySecondaryFollowsPrimary(t *testing.T) {
	t.Parallel()

	stored := New("https://site.com/a", domain.ArticlePatch{
		PrimaryTopic:   domain.SomeString("waiver-wire"),
		SecondaryTopic: domain.Some("rankings"),
	}, t0)
	if stored.SecondaryTopic != "rankings" {
		t.Fatalf("seed secondary = %q", stored.SecondaryTopic)
	}

	got, changed := Apply(stored, domain.ArticlePatch{
		PrimaryTopic:   domain.SomeString("rankings"),
		SecondaryTopic: domain.Some(""),
	}, t1)
	if !changed || got.PrimaryTopic != "rankings" || got.SecondaryTopic != "" {
		t.Fatalf("changed=%v primary=%q secondary=%q", changed, got.PrimaryTopic, got.SecondaryTopic)
	}

	// Without a primary the secondary is left alone.
	got, changed = Apply(stored, domain.ArticlePatch{SecondaryTopic: domain.Some("")}, t1)
	if changed || got.SecondaryTopic != "rankings" {
		t.Fatalf("secondary without primary: changed=%v secondary=%q", changed, got.SecondaryTopic)
	}
}

func TestApplyPublishedConfidenceGate(t *testing.T) {
	t.Parallel()

	stored := New("https://site.com/a", domain.ArticlePatch{
		Published: domain.Some(domain.PublishedPatch{At: t0, Raw: "x", Source: domain.DateFromJSONLD, Confidence: 90}),
	}, t0)

	weaker := domain.ArticlePatch{
		Published: domain.Some(domain.PublishedPatch{At: t1, Raw: "y", Source: domain.DateFromURL, Confidence: 50}),
	}
	got, changed := Apply(stored, weaker, t1)
	if changed || !got.PublishedAt.Equal(t0) || got.PublishedSource != domain.DateFromJSONLD {
		t.Fatalf("weaker date replaced stronger one: %+v", got)
	}

	stronger := domain.ArticlePatch{
		Published: domain.Some(domain.PublishedPatch{At: t1, Raw: "z", Source: domain.DateFromFeed, Confidence: 95, Timezone: "GMT"}),
	}
	got, changed = Apply(stored, stronger, t1)
	if !changed || !got.PublishedAt.Equal(t1) || got.PublishedRaw != "z" || got.PublishedTimezone != "GMT" {
		t.Fatalf("stronger date not applied: %+v", got)
	}
}

func TestApplyFieldsReportsColumns(t *testing.T) {
	t.Parallel()

	stored := domain.Article{CanonicalURL: "c", Title: "A", ImageURL: "https://cdn.site.com/hero.jpg"}
	_, fields := ApplyFields(stored, domain.ArticlePatch{
		Title:    domain.SomeString("B"),
		Author:   domain.SomeString("Jane"),
		ImageURL: domain.SomeString("https://site.com/favicon.ico"),
		IsStatic: domain.Some(false),
	})
	want := []string{FieldTitle, FieldAuthor}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
}

func TestIsLowQualityImage(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                                         true,
		"https://site.com/favicon.ico":             true,
		"https://site.com/static/logo-dark.png":    true,
		"https://site.com/img/sprites/all.png":     true,
		"https://site.com/img/player_60x60.jpg":    true,
		"https://cdn.site.com/photo.jpg?w=120":     true,
		"https://site.com/assets/spinner.gif":      true,
		"data:image/png;base64,AAAA":               true,
		"https://cdn.site.com/photo-1200x630.jpg":  false,
		"https://cdn.site.com/2024/09/hero.jpg":    false,
		"https://cdn.site.com/photo.jpg?width=800": false,
	}
	for in, want := range cases {
		if got := IsLowQualityImage(in); got != want {
			t.Errorf("IsLowQualityImage(%q) = %v, want %v", in, got, want)
		}
	}
}
