package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsIngest/internal/classify"
	"NewsIngest/internal/domain"
	"NewsIngest/internal/merge"
	"NewsIngest/internal/observe"
	"NewsIngest/internal/ports"
)

var fixedNow = time.Date(2024, time.October, 9, 12, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	sources map[string]domain.Source
}

func (f *fakeCatalog) GetSource(_ context.Context, id string) (domain.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return domain.Source{}, fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return src, nil
}

func (f *fakeCatalog) ListAllowedSources(context.Context) ([]domain.Source, error) {
	var out []domain.Source
	for _, s := range f.sources {
		if s.Allowed {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b domain.Source) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

type fakeGateway struct {
	bySource map[string][]domain.Candidate
	err      error
}

func (f *fakeGateway) FetchCandidates(_ context.Context, src domain.Source, limit int) ([]domain.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	items := f.bySource[src.ID]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]domain.Article
	calls    int
	failOn   map[int]error
	panicOn  map[int]bool
	onUpsert func(n int)
	marked   map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string]domain.Article{}, marked: map[string]string{}}
}

func (f *fakeRepo) Upsert(_ context.Context, id domain.Identity, patch domain.ArticlePatch) (domain.UpsertResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	hook := f.onUpsert
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if f.panicOn[n] {
		panic("boom")
	}
	if err := f.failOn[n]; err != nil {
		return domain.UpsertResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[id.Canonical]
	if !ok {
		a := merge.New(id.Canonical, patch, fixedNow)
		f.rows[id.Canonical] = a
		return domain.UpsertResult{Inserted: true, Changed: true, Article: a}, nil
	}
	merged, changed := merge.Apply(existing, patch, fixedNow)
	f.rows[id.Canonical] = merged
	return domain.UpsertResult{Changed: changed, Article: merged}, nil
}

func (f *fakeRepo) MarkImage(_ context.Context, canonical, imageURL string, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[canonical]
	if !ok {
		return domain.ErrNotFound
	}
	a.ImageCheckedAt = &checkedAt
	if imageURL != "" {
		a.ImageURL = imageURL
	}
	f.rows[canonical] = a
	f.marked[canonical] = imageURL
	return nil
}

func (f *fakeRepo) ListForReclassify(_ context.Context, limit int) ([]domain.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Article
	for _, a := range f.rows {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Article) int { return strings.Compare(a.CanonicalURL, b.CanonicalURL) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) row(canonical string) (domain.Article, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[canonical]
	return a, ok
}

type fakeFetcher struct {
	fail map[string]bool
}

func (f *fakeFetcher) FetchPage(_ context.Context, url string) (*ports.Page, error) {
	if f.fail[url] {
		return nil, errors.New("connection reset")
	}
	body := `<html><head>
	<meta property="article:published_time" content="2024-10-01T08:00:00Z">
	<meta property="og:image" content="https://cdn.site.com/img/story-1200x630.jpg">
	</head><body><h1>Story</h1></body></html>`
	return &ports.Page{URL: url, Status: 200, Body: []byte(body)}, nil
}

type fakeImages struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeImages) FindImage(_ context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pageURL)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.site.com/img/found-1200x630.jpg", nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Publish(_ context.Context, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func candidates(n int) []domain.Candidate {
	out := make([]domain.Candidate, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Candidate{
			Title:         fmt.Sprintf("Week 5 waiver wire pickups part %d", i),
			Link:          fmt.Sprintf("https://www.site.com/nfl/2024/10/story-number-%d?utm_source=rss", i),
			PublishedHint: "Tue, 01 Oct 2024 14:00:00 GMT",
			HintKind:      domain.HintFeed,
		})
	}
	return out
}

type harness struct {
	pipeline *Pipeline
	repo     *fakeRepo
	events   *observe.Memory
	jobs     *observe.MemoryTracker
	gateway  *fakeGateway
}

func newHarness(t *testing.T, mutate func(*PipelineDeps)) *harness {
	t.Helper()
	h := &harness{
		repo:   newFakeRepo(),
		events: observe.NewMemory(),
		jobs:   observe.NewMemoryTracker(),
		gateway: &fakeGateway{bySource: map[string][]domain.Candidate{
			"site": candidates(10),
		}},
	}
	deps := PipelineDeps{
		Sources: &fakeCatalog{sources: map[string]domain.Source{
			"site":   {ID: "site", Allowed: true, Adapter: "feed"},
			"other":  {ID: "other", Allowed: true, Adapter: "feed"},
			"banned": {ID: "banned", Allowed: false},
		}},
		Gateway:    h.gateway,
		Repository: h.repo,
		Events:     h.events,
		Jobs:       h.jobs,
		Workers:    4,
		Now:        func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.pipeline = NewPipeline(deps)
	return h
}

func TestIngestSourceInsertsThenSkips(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.pipeline.IngestSource(ctx, "site", 10)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Total != 10 || first.Inserted != 10 || first.Errors != 0 {
		t.Fatalf("unexpected first summary: %+v", first)
	}

	stored, ok := h.repo.row("https://site.com/nfl/2024/10/story-number-1")
	if !ok {
		t.Fatalf("canonical row missing; rows=%d", len(h.repo.rows))
	}

	second, err := h.pipeline.IngestSource(ctx, "site", 10)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != 10 {
		t.Fatalf("unexpected second summary: %+v", second)
	}
	again, _ := h.repo.row("https://site.com/nfl/2024/10/story-number-1")
	if again.Title != stored.Title || again.PrimaryTopic != stored.PrimaryTopic || !again.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Fatalf("row changed on re-ingest: %+v vs %+v", stored, again)
	}
}

func TestIngestSourceBuildsArticle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if _, err := h.pipeline.IngestSource(context.Background(), "site", 1); err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	a, ok := h.repo.row("https://site.com/nfl/2024/10/story-number-1")
	if !ok {
		t.Fatalf("row missing")
	}
	if a.PrimaryTopic != classify.TopicWaiverWire {
		t.Fatalf("primary topic = %q", a.PrimaryTopic)
	}
	if a.Week == nil || *a.Week != 5 {
		t.Fatalf("week = %v", a.Week)
	}
	if a.PublishedSource != domain.DateFromFeed || a.PublishedAt == nil {
		t.Fatalf("published not resolved from feed: %+v", a)
	}
	if a.Domain != "site.com" || a.Fingerprint == "" || a.SourceID != "site" {
		t.Fatalf("identity fields not set: %+v", a)
	}
	if strings.Contains(a.URL, "utm_source") {
		t.Fatalf("tracking params kept in url %q", a.URL)
	}
}

func TestIngestSourcePartialFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.repo.failOn = map[int]error{5: errors.New("constraint violation")}

	summary, err := h.pipeline.IngestSource(context.Background(), "site", 10)
	if err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if summary.Errors != 1 || summary.Inserted != 9 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if h.repo.calls != 10 {
		t.Fatalf("items after the failure were not processed: %d upserts", h.repo.calls)
	}
	if got := h.events.Count(domain.ReasonFailed); got != 1 {
		t.Fatalf("failed events = %d", got)
	}
}

func TestIngestSourceRecoversPanics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.repo.panicOn = map[int]bool{3: true}

	summary, err := h.pipeline.IngestSource(context.Background(), "site", 10)
	if err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if summary.Errors != 1 || summary.Inserted != 9 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestIngestSourceFiltersCandidates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.gateway.bySource["site"] = []domain.Candidate{
		{Title: "Home", Link: "https://site.com/"},
		{Title: "Bad", Link: "not a url"},
		{Title: "Story", Link: "https://site.com/news/123456/headline"},
	}

	summary, err := h.pipeline.IngestSource(context.Background(), "site", 10)
	if err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if summary.Filtered != 2 || summary.Inserted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if h.events.Count(domain.ReasonDiscovered) != 3 || h.events.Count(domain.ReasonFiltered) != 2 {
		t.Fatalf("unexpected events: %+v", h.events.Events())
	}
}

func TestIngestSourceFetchFailureStillPersists(t *testing.T) {
	t.Parallel()

	link := "https://www.site.com/nfl/2024/10/story-number-2?utm_source=rss"
	h := newHarness(t, func(d *PipelineDeps) {
		d.Fetcher = &fakeFetcher{fail: map[string]bool{link: true}}
	})

	summary, err := h.pipeline.IngestSource(context.Background(), "site", 3)
	if err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if summary.FetchFailures != 1 || summary.Inserted != 3 || summary.Errors != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if h.events.Count(domain.ReasonFetchFailed) != 1 {
		t.Fatalf("fetch_failed event missing")
	}

	enriched, _ := h.repo.row("https://site.com/nfl/2024/10/story-number-1")
	if enriched.ImageURL != "https://cdn.site.com/img/story-1200x630.jpg" {
		t.Fatalf("page image not used: %q", enriched.ImageURL)
	}
}

func TestIngestSourceBackfillsImages(t *testing.T) {
	t.Parallel()

	images := &fakeImages{}
	h := newHarness(t, func(d *PipelineDeps) { d.Images = images })

	summary, err := h.pipeline.IngestSource(context.Background(), "site", 4)
	if err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if summary.Inserted != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(images.calls) != 4 || h.events.Count(domain.ReasonImageBackfilled) != 4 {
		t.Fatalf("backfill calls=%d events=%d", len(images.calls), h.events.Count(domain.ReasonImageBackfilled))
	}
	a, _ := h.repo.row("https://site.com/nfl/2024/10/story-number-4")
	if a.ImageURL == "" || a.ImageCheckedAt == nil {
		t.Fatalf("image not marked: %+v", a)
	}

	// Second run: rows were checked, so no new lookups.
	if _, err := h.pipeline.IngestSource(context.Background(), "site", 4); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(images.calls) != 4 {
		t.Fatalf("checked rows looked up again: %d calls", len(images.calls))
	}
}

func TestIngestSourceRecordsFailedImageLookup(t *testing.T) {
	t.Parallel()

	images := &fakeImages{err: errors.New("timeout")}
	h := newHarness(t, func(d *PipelineDeps) { d.Images = images })

	if _, err := h.pipeline.IngestSource(context.Background(), "site", 3); err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if len(images.calls) != 3 || h.events.Count(domain.ReasonImageChecked) != 3 {
		t.Fatalf("lookups=%d checked events=%d", len(images.calls), h.events.Count(domain.ReasonImageChecked))
	}
	a, _ := h.repo.row("https://site.com/nfl/2024/10/story-number-1")
	if a.ImageCheckedAt == nil || a.ImageURL != "" {
		t.Fatalf("failed lookup not recorded: %+v", a)
	}

	if _, err := h.pipeline.IngestSource(context.Background(), "site", 3); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(images.calls) != 3 {
		t.Fatalf("failed pages looked up again: %d calls", len(images.calls))
	}
}

func TestIngestSourceCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, nil)
	h.repo.onUpsert = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	summary, err := h.pipeline.IngestSource(ctx, "site", 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if !summary.Cancelled || summary.Inserted != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if h.repo.calls != 3 {
		t.Fatalf("new work started after cancel: %d upserts", h.repo.calls)
	}
	job, err := h.jobs.GetJob(context.Background(), summary.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != domain.JobError || job.LastMessage != "cancelled" {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestIngestSourceRejectsUnknownAndDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if _, err := h.pipeline.IngestSource(context.Background(), "nope", 10); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if _, err := h.pipeline.IngestSource(context.Background(), "banned", 10); !errors.Is(err, ErrSourceDenied) {
		t.Fatalf("expected ErrSourceDenied, got %v", err)
	}
}

func TestIngestSourceGatewayError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.gateway.err = errors.New("feed down")

	summary, err := h.pipeline.IngestSource(context.Background(), "site", 10)
	if err == nil {
		t.Fatalf("expected gateway error")
	}
	job, _ := h.jobs.GetJob(context.Background(), summary.JobID)
	if job.Status != domain.JobError {
		t.Fatalf("job status = %s", job.Status)
	}
}

func TestStartIngestSourceTracksProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	id, err := h.pipeline.StartIngestSource(context.Background(), "site", 10)
	if err != nil {
		t.Fatalf("StartIngestSource: %v", err)
	}
	h.pipeline.Wait()

	job, err := h.pipeline.Job(context.Background(), id)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Status != domain.JobSuccess || job.ProgressCurrent != 10 || job.ProgressTotal != 10 || job.FinishedAt == nil {
		t.Fatalf("unexpected job: %+v", job)
	}

	last := -1
	for _, j := range h.jobs.History(id) {
		if j.ProgressCurrent < last {
			t.Fatalf("progress went backwards: %d after %d", j.ProgressCurrent, last)
		}
		last = j.ProgressCurrent
	}

	if _, err := h.pipeline.StartIngestSource(context.Background(), "banned", 10); !errors.Is(err, ErrSourceDenied) {
		t.Fatalf("expected ErrSourceDenied, got %v", err)
	}
}

func TestIngestAllNotifies(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	h := newHarness(t, func(d *PipelineDeps) { d.Notifier = notifier })
	h.gateway.bySource["other"] = candidates(2)

	summaries, err := h.pipeline.IngestAll(context.Background(), 5)
	if err != nil {
		t.Fatalf("IngestAll: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].SourceID != "other" || summaries[1].Total != 5 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "2 sources") {
		t.Fatalf("unexpected notification: %v", notifier.messages)
	}
}

func TestStartIngestAll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	id, err := h.pipeline.StartIngestAll(context.Background(), 3)
	if err != nil {
		t.Fatalf("StartIngestAll: %v", err)
	}
	h.pipeline.Wait()

	job, err := h.pipeline.Job(context.Background(), id)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Type != JobIngestAll || job.Status != domain.JobSuccess || job.ProgressTotal != 2 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestReclassifyHonoursJunkPolicy(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		policy      classify.JunkPolicy
		wantUpdated int
	}{
		{classify.JunkPreserve, 1},
		{classify.JunkReclassify, 2},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, func(d *PipelineDeps) {
				d.Classifier = classify.New(classify.Config{JunkPolicy: tc.policy})
			})
			h.repo.rows["https://site.com/a"] = domain.Article{
				CanonicalURL: "https://site.com/a",
				Title:        "Week 7 trade targets",
			}
			h.repo.rows["https://site.com/b"] = domain.Article{
				CanonicalURL: "https://site.com/b",
				Title:        "Injury update: hamstring",
				Topics:       []string{"misc"},
			}
			h.repo.rows["https://site.com/c"] = domain.Article{
				CanonicalURL: "https://site.com/c",
				Title:        "Rankings",
				Topics:       []string{classify.TopicRankings},
				PrimaryTopic: classify.TopicRankings,
			}

			out, err := h.pipeline.Reclassify(context.Background(), 0)
			if err != nil {
				t.Fatalf("Reclassify: %v", err)
			}
			if out.Scanned != 3 || out.Updated != tc.wantUpdated {
				t.Fatalf("unexpected summary: %+v", out)
			}
			a, _ := h.repo.row("https://site.com/a")
			if a.PrimaryTopic != classify.TopicTrade || a.Week == nil || *a.Week != 7 {
				t.Fatalf("row not reclassified: %+v", a)
			}
		})
	}
}

func TestReclassifyClearsStaleSecondary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *PipelineDeps) {
		d.Classifier = classify.New(classify.Config{JunkPolicy: classify.JunkReclassify})
	})
	h.repo.rows["https://site.com/top-100"] = domain.Article{
		CanonicalURL:   "https://site.com/top-100",
		Title:          "Top 100 rankings for the second half",
		Topics:         []string{"misc"},
		PrimaryTopic:   classify.TopicWaiverWire,
		SecondaryTopic: classify.TopicRankings,
	}

	out, err := h.pipeline.Reclassify(context.Background(), 0)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if out.Updated != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	a, _ := h.repo.row("https://site.com/top-100")
	if a.PrimaryTopic != classify.TopicRankings || a.SecondaryTopic != "" {
		t.Fatalf("primary=%q secondary=%q", a.PrimaryTopic, a.SecondaryTopic)
	}
}

func TestBuildRunMessage(t *testing.T) {
	t.Parallel()

	msg := buildRunMessage([]domain.RunSummary{
		{SourceID: "a", Total: 3, Inserted: 2, Skipped: 1},
		{SourceID: "b", Total: 1, Errors: 1, FetchFailures: 1, Cancelled: true},
	})
	for _, want := range []string{"2 sources", "4 candidates", "- a: 2 new", "1 fetch failures", "(cancelled)"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}
