package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"NewsIngest/internal/domain"
)

// StartIngestSource validates the source, then runs it in the background and
// returns the job id to poll.
func (p *Pipeline) StartIngestSource(ctx context.Context, sourceID string, limit int) (string, error) {
	src, err := p.allowedSource(ctx, sourceID)
	if err != nil {
		return "", err
	}
	job := p.newJob(JobIngestSource)
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		_, _ = p.runJob(bg, src, limit, job)
	}()
	return job.ID, nil
}

// StartIngestAll runs IngestAll in the background and returns the job id.
func (p *Pipeline) StartIngestAll(ctx context.Context, perSourceLimit int) (string, error) {
	job := p.newJob(JobIngestAll)
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		_, _ = p.ingestAll(bg, perSourceLimit, job)
	}()
	return job.ID, nil
}

// Job returns the tracked state of a run.
func (p *Pipeline) Job(ctx context.Context, id string) (domain.Job, error) {
	return p.jobs.GetJob(ctx, id)
}

// Wait blocks until every background run has finished.
func (p *Pipeline) Wait() {
	p.background.Wait()
}

func (p *Pipeline) newJob(kind string) domain.Job {
	return domain.Job{
		ID:          uuid.NewString(),
		Type:        kind,
		Status:      domain.JobQueued,
		LastMessage: "queued",
		StartedAt:   p.now(),
	}
}

// createJob, updateJob and finishJob are best-effort: tracker failures are
// logged and never fail the run.
func (p *Pipeline) createJob(ctx context.Context, job *domain.Job) {
	if err := p.jobs.CreateJob(context.WithoutCancel(ctx), *job); err != nil {
		p.logger.Warn("create job", "job", job.ID, "error", err)
	}
}

func (p *Pipeline) updateJob(ctx context.Context, job *domain.Job) {
	if err := p.jobs.UpdateJob(context.WithoutCancel(ctx), *job); err != nil {
		p.logger.Warn("update job", "job", job.ID, "error", err)
	}
}

func (p *Pipeline) finishJob(ctx context.Context, job *domain.Job, runErr error) {
	finished := p.now()
	job.FinishedAt = &finished
	switch {
	case runErr == nil:
		job.Status = domain.JobSuccess
		if job.ProgressTotal > 0 {
			job.ProgressCurrent = job.ProgressTotal
		}
		job.LastMessage = "finished"
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		job.Status = domain.JobError
		job.LastMessage = "cancelled"
	default:
		job.Status = domain.JobError
		job.LastMessage = runErr.Error()
	}
	p.updateJob(ctx, job)
}

// progress moves the job forward; values never decrease.
func (p *Pipeline) progress(ctx context.Context, job *domain.Job, current int, message string) {
	if current < job.ProgressCurrent {
		current = job.ProgressCurrent
	}
	job.ProgressCurrent = current
	if message != "" {
		job.LastMessage = message
	}
	p.updateJob(ctx, job)
}

func elapsed(start time.Time, now time.Time) time.Duration {
	if start.IsZero() {
		return 0
	}
	return now.Sub(start)
}
