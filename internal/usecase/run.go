package usecase

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"NewsIngest/internal/canonical"
	"NewsIngest/internal/classify"
	"NewsIngest/internal/domain"
	"NewsIngest/internal/merge"
	"NewsIngest/internal/pagemeta"
	"NewsIngest/internal/ports"
	"NewsIngest/internal/published"
)

// run is the state of one source ingestion:
// fetching -> filtering -> enriching -> merging -> backfilling -> summarizing.
type run struct {
	p       *Pipeline
	src     domain.Source
	limit   int
	job     domain.Job
	summary domain.RunSummary
}

// item follows one candidate through the stages.
type item struct {
	cand     domain.Candidate
	decision string
	url      canonical.Result

	page     *ports.Page
	fetchErr error
	meta     pagemeta.Meta
	images   []string
	date     published.Resolution
	panicErr error

	result *domain.UpsertResult
}

func (r *run) execute(ctx context.Context) (domain.RunSummary, error) {
	p := r.p
	r.summary = domain.RunSummary{SourceID: r.src.ID, StartedAt: p.now()}
	log := p.logger.With("source", r.src.ID, "job", r.job.ID)

	r.job.Status = domain.JobRunning
	r.p.progress(ctx, &r.job, 0, "fetching")

	if p.gateway == nil {
		return r.finish(), fmt.Errorf("source gateway is not configured")
	}
	candidates, err := p.gateway.FetchCandidates(ctx, r.src, r.limit)
	if err != nil {
		return r.finish(), fmt.Errorf("fetch candidates: %w", err)
	}
	if len(candidates) > r.limit {
		candidates = candidates[:r.limit]
	}
	r.summary.Total = len(candidates)
	r.job.ProgressTotal = len(candidates)
	p.progress(ctx, &r.job, 0, fmt.Sprintf("fetched %d candidates", len(candidates)))
	log.Debug("candidates fetched", "count", len(candidates))

	items := r.screen(ctx, candidates)
	r.enrich(ctx, items)

	for i, it := range items {
		if ctx.Err() != nil {
			r.summary.Cancelled = true
			log.Info("run cancelled", "processed", i, "total", len(items))
			break
		}
		r.settle(ctx, it)
		p.progress(ctx, &r.job, i+1, "")
	}

	if !r.summary.Cancelled {
		p.progress(ctx, &r.job, len(items), "backfilling images")
		r.backfill(ctx, items)
	}

	p.progress(ctx, &r.job, r.job.ProgressCurrent, "summarizing")
	summary := r.finish()
	log.Debug("run timing", "elapsed", elapsed(summary.StartedAt, summary.FinishedAt))
	if summary.Cancelled {
		return summary, fmt.Errorf("run %s: %w", r.src.ID, context.Cause(ctx))
	}
	return summary, nil
}

func (r *run) finish() domain.RunSummary {
	r.summary.FinishedAt = r.p.now()
	return r.summary
}

// screen applies the filter and canonicalizer; it is cheap and sequential.
func (r *run) screen(ctx context.Context, candidates []domain.Candidate) []*item {
	items := make([]*item, 0, len(candidates))
	for _, c := range candidates {
		it := &item{cand: c}
		r.p.emit(ctx, r.event(it, domain.ReasonDiscovered, ""))

		decision := r.p.filter.Decide(c)
		if !decision.Keep {
			it.decision = decision.Reason
		} else {
			it.url = r.p.canonicalizer.Canonicalize(c.Link)
		}
		items = append(items, it)
	}
	return items
}

// enrich fetches article pages concurrently and resolves metadata. Each
// worker writes only to its own item. No new fetch starts once ctx is done;
// started fetches run to completion.
func (r *run) enrich(ctx context.Context, items []*item) {
	var g errgroup.Group
	g.SetLimit(r.p.workers)
	work := context.WithoutCancel(ctx)
	for _, it := range items {
		if it.decision != "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					it.panicErr = fmt.Errorf("panic during enrichment: %v", rec)
					r.p.logger.Error("enrichment panic", "url", it.cand.Link, "panic", rec, "stack", string(debug.Stack()))
				}
			}()
			r.enrichOne(work, it)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) enrichOne(ctx context.Context, it *item) {
	var doc *goquery.Document
	if r.p.fetcher != nil {
		page, err := r.p.fetcher.FetchPage(ctx, it.cand.Link)
		if err != nil {
			it.fetchErr = err
		} else {
			it.page = page
			base := page.URL
			if base == "" {
				base = it.cand.Link
			}
			if parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body)); err == nil {
				doc = parsed
				it.meta = pagemeta.Extract(doc, base)
				it.images = pagemeta.ImageCandidates(doc, base)
			}
		}
	}

	sig := published.Signals{
		URL:      it.cand.Link,
		Doc:      doc,
		Hint:     it.cand.PublishedHint,
		HintAt:   it.cand.PublishedAt,
		HintKind: it.cand.HintKind,
		Now:      r.p.now(),
	}
	switch it.cand.HintKind {
	case domain.HintFeed:
		sig.FeedUpdated = it.cand.Updated
		sig.FeedUpdatedAt = it.cand.UpdatedAt
	case domain.HintSitemap:
		sig.SitemapLastmod = it.cand.Updated
	}
	if it.page != nil {
		sig.Headers = it.page.Header
	}
	it.date = r.p.resolver.Resolve(sig)
}

// settle classifies and persists one item. It never lets a failure escape.
func (r *run) settle(ctx context.Context, it *item) {
	if it.decision != "" {
		r.summary.Filtered++
		r.p.emit(ctx, r.event(it, domain.ReasonFiltered, it.decision))
		return
	}
	if it.fetchErr != nil {
		r.summary.FetchFailures++
		r.p.emit(ctx, r.event(it, domain.ReasonFetchFailed, it.fetchErr.Error()))
	}
	if it.panicErr != nil {
		r.fail(ctx, it, it.panicErr)
		return
	}

	res, err := r.persist(ctx, it)
	if err != nil {
		r.fail(ctx, it, err)
		return
	}
	it.result = &res
	switch {
	case res.Inserted:
		r.summary.Inserted++
		r.p.emit(ctx, r.event(it, domain.ReasonInserted, ""))
	case res.Changed:
		r.summary.Updated++
		r.p.emit(ctx, r.event(it, domain.ReasonUpdated, ""))
	default:
		r.summary.Skipped++
		r.p.emit(ctx, r.event(it, domain.ReasonSkipped, "no change"))
	}
}

func (r *run) fail(ctx context.Context, it *item, err error) {
	r.summary.Errors++
	r.p.logger.Error("item failed", "source", r.src.ID, "url", it.cand.Link, "error", err)
	r.p.emit(ctx, r.event(it, domain.ReasonFailed, err.Error()))
}

// persist recovers panics from classification and storage so a single item
// can never abort the run.
func (r *run) persist(ctx context.Context, it *item) (res domain.UpsertResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during merge: %v", rec)
			r.p.logger.Error("merge panic", "url", it.cand.Link, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	if r.p.repository == nil {
		return domain.UpsertResult{}, fmt.Errorf("article repository is not configured")
	}

	patch := r.buildPatch(it)
	id := domain.Identity{
		Canonical: it.url.Canonical,
		URL:       strings.TrimSpace(it.cand.Link),
	}
	if it.meta.CanonicalURL != "" {
		id.ProbeCanonical = r.p.canonicalizer.Canonicalize(it.meta.CanonicalURL).Canonical
	}

	res, err = r.p.repository.Upsert(context.WithoutCancel(ctx), id, patch)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("upsert %s: %w", id.Canonical, err)
	}
	return res, nil
}

func (r *run) buildPatch(it *item) domain.ArticlePatch {
	title := firstNonEmpty(it.cand.Title, it.meta.Title)
	description := firstNonEmpty(it.cand.Description, it.meta.Description)

	ref := r.p.now()
	if it.date.PublishedAt != nil {
		ref = *it.date.PublishedAt
	}
	class := r.p.classifier.Classify(classify.Input{
		Title:     title,
		URL:       it.url.Canonical,
		Summary:   description,
		Reference: ref,
	})

	patch := domain.ArticlePatch{
		URL:            domain.SomeString(it.url.URL),
		SourceID:       domain.SomeString(r.src.ID),
		Title:          domain.SomeString(title),
		CleanedTitle:   domain.SomeString(class.CleanedTitle),
		Author:         domain.SomeString(firstNonEmpty(it.cand.Author, it.meta.Author)),
		Description:    domain.SomeString(description),
		Published:      it.date.Patch(),
		Domain:         domain.SomeString(it.url.Domain),
		Fingerprint:    domain.SomeString(canonical.Fingerprint(title, it.url.Canonical)),
		Topics:         domain.SomeStrings(class.Topics),
		PrimaryTopic:   domain.SomeString(class.Primary),
		SecondaryTopic: domain.Some(class.Secondary),
		Players:        domain.SomeStrings(class.Players),
		ImageURL:       domain.SomeString(pickImage(it.cand.ImageURL, it.images)),
		IsStatic:       domain.Some(class.IsStatic),
		StaticType:     domain.SomeString(class.StaticType),
	}
	if class.Week != nil {
		patch.Week = domain.Some(*class.Week)
	}
	return patch
}

// backfill looks up images for stored rows whose image is missing or low
// quality and that were never checked. Lookups are best-effort and bounded by the worker limit.
func (r *run) backfill(ctx context.Context, items []*item) {
	if r.p.images == nil || r.p.repository == nil {
		return
	}
	var g errgroup.Group
	g.SetLimit(r.p.workers)
	work := context.WithoutCancel(ctx)
	for _, it := range items {
		if it.result == nil {
			continue
		}
		art := it.result.Article
		if art.ImageCheckedAt != nil || (art.ImageURL != "" && !merge.IsLowQualityImage(art.ImageURL)) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					r.p.logger.Error("image backfill panic", "url", art.URL, "panic", rec)
				}
			}()
			r.backfillOne(work, it, art)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) backfillOne(ctx context.Context, it *item, art domain.Article) {
	pageURL := firstNonEmpty(art.URL, art.CanonicalURL)
	detail := "no image"
	img, err := r.p.images.FindImage(ctx, pageURL)
	if err != nil {
		r.p.logger.Warn("image lookup failed", "url", pageURL, "error", err)
		img, detail = "", "lookup failed: "+err.Error()
	}
	if merge.IsLowQualityImage(img) {
		img = ""
	}
	// Failed lookups are marked checked as well.
	if err := r.p.repository.MarkImage(ctx, art.CanonicalURL, img, r.p.now()); err != nil {
		r.p.logger.Warn("mark image", "url", art.CanonicalURL, "error", err)
		return
	}
	if img != "" {
		r.p.emit(ctx, r.event(it, domain.ReasonImageBackfilled, img))
		return
	}
	r.p.emit(ctx, r.event(it, domain.ReasonImageChecked, detail))
}

func (r *run) event(it *item, reason domain.EventReason, detail string) domain.IngestEvent {
	ev := domain.IngestEvent{
		SourceID: r.src.ID,
		URL:      it.cand.Link,
		Title:    it.cand.Title,
		Reason:   reason,
		Detail:   detail,
	}
	if it.url.Canonical != "" {
		ev.URL = it.url.Canonical
		ev.Domain = it.url.Domain
	} else {
		ev.Domain = canonical.DomainOf(it.cand.Link)
	}
	return ev
}

// pickImage prefers the gateway image, then page images, skipping low-quality ones.
func pickImage(gateway string, page []string) string {
	if gateway != "" && !merge.IsLowQualityImage(gateway) {
		return gateway
	}
	for _, c := range page {
		if !merge.IsLowQualityImage(c) {
			return c
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
