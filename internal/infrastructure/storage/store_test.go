package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NewsIngest/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db, DriverSQLite)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func samplePatch(title string) domain.ArticlePatch {
	published := time.Date(2024, 9, 11, 12, 30, 0, 0, time.UTC)
	return domain.ArticlePatch{
		URL:            domain.SomeString("https://www.site.com/nfl/waivers-week-3/"),
		SourceID:       domain.SomeString("site"),
		Title:          domain.SomeString(title),
		Domain:         domain.SomeString("site.com"),
		Topics:         domain.SomeStrings([]string{"waiver-wire", "rankings"}),
		PrimaryTopic:   domain.SomeString("waiver-wire"),
		SecondaryTopic: domain.Some("rankings"),
		Week:           domain.Some(3),
		Published: domain.Some(domain.PublishedPatch{
			At: published, Raw: "2024-09-11T08:30:00-04:00", Source: domain.DateFromJSONLD, Confidence: 90, Timezone: "-04:00",
		}),
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	id := domain.Identity{Canonical: "https://site.com/nfl/waivers-week-3"}

	first, err := s.Upsert(ctx, id, samplePatch("Week 3 waivers"))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !first.Inserted {
		t.Fatalf("first upsert should insert")
	}
	stored, err := s.GetArticle(ctx, id.Canonical)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	second, err := s.Upsert(ctx, id, samplePatch("Week 3 waivers"))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Inserted || second.Changed {
		t.Fatalf("second upsert = %+v, want no-op", second)
	}
	again, err := s.GetArticle(ctx, id.Canonical)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(stored, again) {
		t.Fatalf("row changed:\n%+v\n%+v", stored, again)
	}
	if *again.Week != 3 || !reflect.DeepEqual(again.Topics, []string{"waiver-wire", "rankings"}) {
		t.Fatalf("unexpected row: %+v", again)
	}
	if again.PublishedSource != domain.DateFromJSONLD || again.PublishedConfidence != 90 {
		t.Fatalf("published group not stored: %+v", again)
	}
}

func TestUpsertMergeNeverClears(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	id := domain.Identity{Canonical: "https://site.com/a"}

	if _, err := s.Upsert(ctx, id, domain.ArticlePatch{
		Title:    domain.SomeString("A"),
		Author:   domain.SomeString("Jane"),
		ImageURL: domain.SomeString("https://cdn.site.com/hero.jpg"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := s.Upsert(ctx, id, domain.ArticlePatch{Title: domain.SomeString(""), Description: domain.SomeString("new summary")})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Inserted || !res.Changed {
		t.Fatalf("merge result = %+v", res)
	}
	got, err := s.GetArticle(ctx, id.Canonical)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "A" || got.Author != "Jane" || got.ImageURL == "" || got.Description != "new summary" {
		t.Fatalf("row = %+v", got)
	}

	if _, err := s.Upsert(ctx, id, domain.ArticlePatch{Title: domain.SomeString("B")}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, _ = s.GetArticle(ctx, id.Canonical)
	if got.Title != "B" {
		t.Fatalf("title = %q, want B", got.Title)
	}
}

func TestUpsertCollapsesAlternateIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Upsert(ctx, domain.Identity{Canonical: "https://site.com/story"}, domain.ArticlePatch{
		URL:   domain.SomeString("https://site.com/story?ref=feed"),
		Title: domain.SomeString("Story"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := s.Upsert(ctx, domain.Identity{
		Canonical:      "https://site.com/story?ref=feed",
		URL:            "https://site.com/story?ref=feed",
		ProbeCanonical: "https://site.com/story",
	}, domain.ArticlePatch{Author: domain.SomeString("Jane")})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res.Inserted {
		t.Fatalf("alternate identity should merge into the existing row")
	}
	if res.Article.CanonicalURL != "https://site.com/story" || res.Article.Author != "Jane" {
		t.Fatalf("merged article = %+v", res.Article)
	}
	n, err := s.CountArticles(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestUpsertConcurrentSameIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	id := domain.Identity{Canonical: "https://site.com/race"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Upsert(ctx, id, samplePatch("Race"))
			if err != nil {
				t.Errorf("upsert: %v", err)
				return
			}
			if res.Inserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Fatalf("inserted %d times, want 1", inserted)
	}
	if n, _ := s.CountArticles(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestMarkImage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	id := domain.Identity{Canonical: "https://site.com/a"}
	if _, err := s.Upsert(ctx, id, domain.ArticlePatch{Title: domain.SomeString("A")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	checked := time.Date(2024, 9, 12, 0, 0, 0, 0, time.UTC)
	if err := s.MarkImage(ctx, id.Canonical, "", checked); err != nil {
		t.Fatalf("mark checked: %v", err)
	}
	got, _ := s.GetArticle(ctx, id.Canonical)
	if got.ImageURL != "" || got.ImageCheckedAt == nil || !got.ImageCheckedAt.Equal(checked) {
		t.Fatalf("after check: %+v", got)
	}

	if err := s.MarkImage(ctx, id.Canonical, "https://cdn.site.com/hero.jpg", checked); err != nil {
		t.Fatalf("mark image: %v", err)
	}
	got, _ = s.GetArticle(ctx, id.Canonical)
	if got.ImageURL != "https://cdn.site.com/hero.jpg" {
		t.Fatalf("image = %q", got.ImageURL)
	}

	if err := s.MarkImage(ctx, "https://site.com/missing", "", checked); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEventsAreAppendOnlyAndOrdered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, domain.IngestEvent{SourceID: "site", URL: fmt.Sprintf("https://site.com/%d", i), Reason: domain.ReasonDiscovered}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Append(ctx, domain.IngestEvent{SourceID: "other", Reason: domain.ReasonFailed, Detail: "boom"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := s.ListEvents(ctx, "site", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].URL != "https://site.com/2" || events[0].ID <= events[1].ID {
		t.Fatalf("events not newest first: %+v", events)
	}
	all, _ := s.ListEvents(ctx, "", 1)
	if len(all) != 1 || all[0].Reason != domain.ReasonFailed {
		t.Fatalf("latest event = %+v", all)
	}
}

func TestJobsLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	job := domain.Job{ID: "job-1", Type: "ingest_source", Status: domain.JobQueued}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	finished := time.Date(2024, 9, 12, 1, 0, 0, 0, time.UTC)
	job.Status = domain.JobSuccess
	job.ProgressCurrent, job.ProgressTotal = 10, 10
	job.LastMessage = "done"
	job.FinishedAt = &finished
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobSuccess || got.ProgressCurrent != 10 || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) || got.StartedAt.IsZero() {
		t.Fatalf("job = %+v", got)
	}
	if _, err := s.GetJob(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateJob(ctx, domain.Job{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	for _, src := range []domain.Source{
		{ID: "b", Name: "B", Allowed: true, Adapter: "feed", FeedURL: "https://b.com/rss"},
		{ID: "a", Name: "A", Allowed: true, Adapter: "html", FeedURL: "https://a.com/news", Options: map[string]string{"item": "article"}},
		{ID: "c", Name: "C", Allowed: false, Adapter: "feed"},
	} {
		if err := s.UpsertSource(ctx, src); err != nil {
			t.Fatalf("upsert source: %v", err)
		}
	}
	if err := s.UpsertSource(ctx, domain.Source{ID: "b", Name: "B2", Allowed: true, Adapter: "feed"}); err != nil {
		t.Fatalf("replace source: %v", err)
	}

	allowed, err := s.ListAllowedSources(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(allowed) != 2 || allowed[0].ID != "a" || allowed[1].Name != "B2" {
		t.Fatalf("allowed = %+v", allowed)
	}
	if allowed[0].Options["item"] != "article" {
		t.Fatalf("options = %v", allowed[0].Options)
	}
	src, err := s.GetSource(ctx, "c")
	if err != nil || src.Allowed {
		t.Fatalf("GetSource = %+v, %v", src, err)
	}
	if err := s.UpsertSource(ctx, domain.Source{ID: "c", Name: "C", Allowed: true, Adapter: "feed"}); err != nil {
		t.Fatalf("reseed source: %v", err)
	}
	if src, err := s.GetSource(ctx, "c"); err != nil || src.Allowed {
		t.Fatalf("reseed flipped allowed: %+v, %v", src, err)
	}
	if _, err := s.GetSource(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertSourceKeepsAdminDeny(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	if err := s.UpsertSource(ctx, domain.Source{ID: "roto", Name: "Roto", Allowed: true, Adapter: "feed", FeedURL: "https://roto.com/rss"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE sources SET allowed = 0 WHERE id = 'roto'"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if err := s.UpsertSource(ctx, domain.Source{ID: "roto", Name: "Roto", Allowed: true, Adapter: "feed", FeedURL: "https://roto.com/feed.xml"}); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	src, err := s.GetSource(ctx, "roto")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if src.Allowed {
		t.Fatalf("admin deny was overwritten")
	}
	if src.FeedURL != "https://roto.com/feed.xml" {
		t.Fatalf("feed url = %q, want refreshed value", src.FeedURL)
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	t.Parallel()

	s := New(nil, DriverPostgres)
	query, args, err := s.sb.Select("id").From("sources").Where(sq.Eq{"id": "roto"}).ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if !strings.Contains(query, "$1") || len(args) != 1 {
		t.Fatalf("query = %q args = %v", query, args)
	}

	lite := New(nil, DriverSQLite)
	query, _, err = lite.sb.Select("id").From("sources").Where(sq.Eq{"id": "roto"}).ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if !strings.Contains(query, "?") {
		t.Fatalf("query = %q, want ? placeholder", query)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
