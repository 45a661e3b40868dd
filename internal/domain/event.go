package domain

import (
	"errors"
	"time"
)

// EventReason enumerates pipeline decision points.
type EventReason string

const (
	ReasonDiscovered      EventReason = "discovered"
	ReasonFiltered        EventReason = "filtered"
	ReasonInserted        EventReason = "inserted"
	ReasonUpdated         EventReason = "updated"
	ReasonSkipped         EventReason = "skipped"
	ReasonFailed          EventReason = "failed"
	ReasonFetchFailed     EventReason = "fetch_failed"
	ReasonImageBackfilled EventReason = "image_backfilled"
	ReasonImageChecked    EventReason = "image_checked"
)

// IngestEvent is one append-only audit row.
type IngestEvent struct {
	ID        int64
	SourceID  string
	URL       string
	Domain    string
	Title     string
	Reason    EventReason
	Detail    string
	CreatedAt time.Time
}

// JobStatus is the lifecycle of a Job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// Job is an ephemeral progress record for external monitors.
type Job struct {
	ID              string
	Type            string
	Status          JobStatus
	ProgressCurrent int
	ProgressTotal   int
	LastMessage     string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// RunSummary is the result of ingesting one source.
type RunSummary struct {
	SourceID      string
	JobID         string
	Total         int
	Filtered      int
	Inserted      int
	Updated       int
	Skipped       int
	Errors        int
	FetchFailures int
	Cancelled     bool
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Add accumulates counters from another summary.
func (s *RunSummary) Add(o RunSummary) {
	s.Total += o.Total
	s.Filtered += o.Filtered
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Errors += o.Errors
	s.FetchFailures += o.FetchFailures
	s.Cancelled = s.Cancelled || o.Cancelled
}

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("not found")
