package usecase

import (
	"context"
	"log/slog"
	"time"

	"NewsIngest/internal/ports"
)

// Scheduler wires the cron driver with the ingest-all use case.
type Scheduler struct {
	driver         ports.Scheduler
	pipeline       *Pipeline
	perSourceLimit int
	logger         *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring ingest-all runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, perSourceLimit int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:         driver,
		pipeline:       pipeline,
		perSourceLimit: perSourceLimit,
		logger:         logger.With("component", "scheduler"),
	}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled ingest", "trigger", trigger.Format(time.RFC3339))
		summaries, err := s.pipeline.IngestAll(ctx, s.perSourceLimit)
		if err != nil {
			s.logger.Error("scheduled ingest failed", "sources", len(summaries), "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
