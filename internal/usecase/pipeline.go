package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"NewsIngest/internal/canonical"
	"NewsIngest/internal/classify"
	"NewsIngest/internal/domain"
	"NewsIngest/internal/filter"
	"NewsIngest/internal/observe"
	"NewsIngest/internal/ports"
	"NewsIngest/internal/published"
)

// Sentinel errors returned to the trigger surface.
var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceDenied   = errors.New("source is not allowed")
)

// Default run bounds.
const (
	DefaultLimit   = 50
	DefaultWorkers = 6
	MaxWorkers     = 16
)

// Job types recorded in the tracker.
const (
	JobIngestSource = "ingest_source"
	JobIngestAll    = "ingest_all"
	JobReclassify   = "reclassify"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Sources       ports.SourceCatalog
	Gateway       ports.SourceGateway
	Repository    ports.ArticleRepository
	Fetcher       ports.PageFetcher
	Images        ports.ImageFinder
	Events        ports.EventSink
	Jobs          ports.JobTracker
	Notifier      ports.Notifier
	Filter        *filter.Filter
	Canonicalizer *canonical.Canonicalizer
	Resolver      *published.Resolver
	Classifier    *classify.Classifier
	Logger        *slog.Logger
	// Workers bounds concurrent page and image fetches.
	Workers      int
	DefaultLimit int
	Now          func() time.Time
}

// Pipeline implements the news-ingestion workflow.
type Pipeline struct {
	sources       ports.SourceCatalog
	gateway       ports.SourceGateway
	repository    ports.ArticleRepository
	fetcher       ports.PageFetcher
	images        ports.ImageFinder
	events        ports.EventSink
	jobs          ports.JobTracker
	notifier      ports.Notifier
	filter        *filter.Filter
	canonicalizer *canonical.Canonicalizer
	resolver      *published.Resolver
	classifier    *classify.Classifier
	logger        *slog.Logger
	workers       int
	defaultLimit  int
	now           func() time.Time

	background sync.WaitGroup
}

// NewPipeline constructs the orchestration component. Missing optional
// collaborators fall back to no-op or default implementations.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		sources:       deps.Sources,
		gateway:       deps.Gateway,
		repository:    deps.Repository,
		fetcher:       deps.Fetcher,
		images:        deps.Images,
		events:        deps.Events,
		jobs:          deps.Jobs,
		notifier:      deps.Notifier,
		filter:        deps.Filter,
		canonicalizer: deps.Canonicalizer,
		resolver:      deps.Resolver,
		classifier:    deps.Classifier,
		logger:        deps.Logger,
		workers:       deps.Workers,
		defaultLimit:  deps.DefaultLimit,
		now:           deps.Now,
	}
	if p.events == nil {
		p.events = observe.Nop{}
	}
	if p.jobs == nil {
		p.jobs = observe.NopTracker{}
	}
	if p.filter == nil {
		p.filter = filter.New(filter.Config{})
	}
	if p.canonicalizer == nil {
		p.canonicalizer = canonical.New(nil)
	}
	if p.resolver == nil {
		p.resolver = published.NewResolver()
	}
	if p.classifier == nil {
		p.classifier = classify.New(classify.Config{})
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.workers <= 0 {
		p.workers = DefaultWorkers
	}
	if p.workers > MaxWorkers {
		p.workers = MaxWorkers
	}
	if p.defaultLimit <= 0 {
		p.defaultLimit = DefaultLimit
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// IngestSource runs the pipeline for one allowed source and returns its summary.
func (p *Pipeline) IngestSource(ctx context.Context, sourceID string, limit int) (domain.RunSummary, error) {
	src, err := p.allowedSource(ctx, sourceID)
	if err != nil {
		return domain.RunSummary{SourceID: sourceID}, err
	}
	job := p.newJob(JobIngestSource)
	p.createJob(ctx, &job)
	return p.runJob(ctx, src, limit, job)
}

// IngestAll runs every allowed source in turn. A failing source does not stop
// the others; per-source errors are joined into the returned error.
func (p *Pipeline) IngestAll(ctx context.Context, perSourceLimit int) ([]domain.RunSummary, error) {
	job := p.newJob(JobIngestAll)
	p.createJob(ctx, &job)
	return p.ingestAll(ctx, perSourceLimit, job)
}

func (p *Pipeline) ingestAll(ctx context.Context, perSourceLimit int, job domain.Job) ([]domain.RunSummary, error) {
	if p.sources == nil {
		err := fmt.Errorf("source catalog is not configured")
		p.finishJob(ctx, &job, err)
		return nil, err
	}
	sources, err := p.sources.ListAllowedSources(ctx)
	if err != nil {
		err = fmt.Errorf("list sources: %w", err)
		p.finishJob(ctx, &job, err)
		return nil, err
	}

	job.Status = domain.JobRunning
	job.ProgressTotal = len(sources)
	job.LastMessage = fmt.Sprintf("ingesting %d sources", len(sources))
	p.updateJob(ctx, &job)

	var (
		summaries []domain.RunSummary
		errs      []error
	)
	for i, src := range sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		child := p.newJob(JobIngestSource)
		p.createJob(ctx, &child)
		summary, err := p.runJob(ctx, src, perSourceLimit, child)
		summaries = append(summaries, summary)
		if err != nil {
			p.logger.Error("source run failed", "source", src.ID, "error", err)
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
		}

		job.ProgressCurrent = i + 1
		job.LastMessage = fmt.Sprintf("finished %s", src.ID)
		p.updateJob(ctx, &job)
	}

	runErr := errors.Join(errs...)
	p.finishJob(ctx, &job, runErr)
	p.notify(ctx, summaries)
	return summaries, runErr
}

func (p *Pipeline) runJob(ctx context.Context, src domain.Source, limit int, job domain.Job) (domain.RunSummary, error) {
	if limit <= 0 {
		limit = p.defaultLimit
	}
	r := &run{p: p, src: src, limit: limit, job: job}
	summary, err := r.execute(ctx)
	summary.JobID = job.ID
	p.finishJob(ctx, &r.job, err)

	p.logger.Info("source run finished",
		"source", src.ID,
		"job", job.ID,
		"total", summary.Total,
		"filtered", summary.Filtered,
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"fetch_failures", summary.FetchFailures,
		"cancelled", summary.Cancelled,
	)
	return summary, err
}

func (p *Pipeline) allowedSource(ctx context.Context, id string) (domain.Source, error) {
	if p.sources == nil {
		return domain.Source{}, fmt.Errorf("source catalog is not configured")
	}
	src, err := p.sources.GetSource(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("load source %s: %w", id, err)
	}
	if !src.Allowed {
		return domain.Source{}, fmt.Errorf("%w: %s", ErrSourceDenied, id)
	}
	return src, nil
}

// emit appends an event; sink failures are logged and never fail the run.
func (p *Pipeline) emit(ctx context.Context, ev domain.IngestEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = p.now()
	}
	if err := p.events.Append(context.WithoutCancel(ctx), ev); err != nil {
		p.logger.Warn("append event", "reason", ev.Reason, "url", ev.URL, "error", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, summaries []domain.RunSummary) {
	if p.notifier == nil || len(summaries) == 0 {
		return
	}
	if err := p.notifier.Publish(context.WithoutCancel(ctx), buildRunMessage(summaries)); err != nil {
		p.logger.Warn("publish run summary", "error", err)
	}
}

func buildRunMessage(summaries []domain.RunSummary) string {
	var total domain.RunSummary
	var b strings.Builder
	for _, s := range summaries {
		total.Add(s)
		fmt.Fprintf(&b, "- %s: %d new, %d updated, %d unchanged, %d filtered, %d errors",
			s.SourceID, s.Inserted, s.Updated, s.Skipped, s.Filtered, s.Errors)
		if s.FetchFailures > 0 {
			fmt.Fprintf(&b, ", %d fetch failures", s.FetchFailures)
		}
		if s.Cancelled {
			b.WriteString(" (cancelled)")
		}
		b.WriteString("\n")
	}
	header := fmt.Sprintf("Ingest finished: %d sources, %d candidates, %d new, %d updated, %d errors\n",
		len(summaries), total.Total, total.Inserted, total.Updated, total.Errors)
	return header + b.String()
}
