package ports

import (
	"context"
	"net/http"
	"time"

	"NewsIngest/internal/domain"
)

// SourceGateway yields a bounded list of raw candidates for one source.
type SourceGateway interface {
	FetchCandidates(ctx context.Context, src domain.Source, limit int) ([]domain.Candidate, error)
}

// SourceCatalog reads the admin-owned source list.
type SourceCatalog interface {
	GetSource(ctx context.Context, id string) (domain.Source, error)
	ListAllowedSources(ctx context.Context) ([]domain.Source, error)
}

// ArticleRepository is the persistence side of the record merger.
type ArticleRepository interface {
	Upsert(ctx context.Context, id domain.Identity, patch domain.ArticlePatch) (domain.UpsertResult, error)
	MarkImage(ctx context.Context, canonical, imageURL string, checkedAt time.Time) error
	ListForReclassify(ctx context.Context, limit int) ([]domain.Article, error)
}

// EventSink receives append-only ingest events.
type EventSink interface {
	Append(ctx context.Context, ev domain.IngestEvent) error
}

// JobTracker records run progress for external monitors.
type JobTracker interface {
	CreateJob(ctx context.Context, job domain.Job) error
	UpdateJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
}

// Page is a fetched document plus the response metadata the resolver may use.
type Page struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// PageFetcher downloads article pages for metadata enrichment.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*Page, error)
}

// ImageFinder looks up a representative image for a page. Best-effort.
type ImageFinder interface {
	FindImage(ctx context.Context, pageURL string) (string, error)
}

// Notifier pushes run summaries to an operator channel.
type Notifier interface {
	Publish(ctx context.Context, message string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
