package usecase

import (
	"context"
	"fmt"

	"NewsIngest/internal/classify"
	"NewsIngest/internal/domain"
)

// ReclassifySummary reports a reclassification pass.
type ReclassifySummary struct {
	Scanned  int
	Eligible int
	Updated  int
	Errors   int
}

// Reclassify re-tags stored rows whose topics are missing, or hold no
// canonical tag when the junk policy allows it. Only classifier-owned fields
// are patched.
func (p *Pipeline) Reclassify(ctx context.Context, limit int) (ReclassifySummary, error) {
	var out ReclassifySummary
	if p.repository == nil {
		return out, fmt.Errorf("article repository is not configured")
	}
	job := p.newJob(JobReclassify)
	p.createJob(ctx, &job)

	articles, err := p.repository.ListForReclassify(ctx, limit)
	if err != nil {
		err = fmt.Errorf("list articles: %w", err)
		p.finishJob(ctx, &job, err)
		return out, err
	}
	out.Scanned = len(articles)
	job.Status = domain.JobRunning
	job.ProgressTotal = len(articles)
	p.progress(ctx, &job, 0, "reclassifying")

	for i, a := range articles {
		if ctx.Err() != nil {
			p.finishJob(ctx, &job, ctx.Err())
			return out, ctx.Err()
		}
		if p.classifier.NeedsReclassification(a.Topics) {
			out.Eligible++
			changed, err := p.reclassifyOne(ctx, a)
			switch {
			case err != nil:
				out.Errors++
				p.logger.Error("reclassify failed", "url", a.CanonicalURL, "error", err)
			case changed:
				out.Updated++
			}
		}
		p.progress(ctx, &job, i+1, "")
	}

	p.finishJob(ctx, &job, nil)
	p.logger.Info("reclassify finished", "scanned", out.Scanned, "eligible", out.Eligible, "updated", out.Updated, "errors", out.Errors)
	return out, nil
}

func (p *Pipeline) reclassifyOne(ctx context.Context, a domain.Article) (changed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during reclassify: %v", rec)
		}
	}()

	ref := a.DiscoveredAt
	if a.PublishedAt != nil {
		ref = *a.PublishedAt
	}
	class := p.classifier.Classify(classify.Input{
		Title:     a.Title,
		URL:       a.CanonicalURL,
		Summary:   a.Description,
		Reference: ref,
	})
	patch := domain.ArticlePatch{
		CleanedTitle:   domain.SomeString(class.CleanedTitle),
		Topics:         domain.SomeStrings(class.Topics),
		PrimaryTopic:   domain.SomeString(class.Primary),
		SecondaryTopic: domain.Some(class.Secondary),
		Players:        domain.SomeStrings(class.Players),
		IsStatic:       domain.Some(class.IsStatic),
		StaticType:     domain.SomeString(class.StaticType),
	}
	if class.Week != nil {
		patch.Week = domain.Some(*class.Week)
	}

	res, err := p.repository.Upsert(ctx, domain.Identity{Canonical: a.CanonicalURL}, patch)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", a.CanonicalURL, err)
	}
	return res.Changed, nil
}
