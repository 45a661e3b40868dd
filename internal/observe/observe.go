// Package observe holds in-process event sinks and job trackers.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
)

var (
	_ ports.EventSink  = Nop{}
	_ ports.EventSink  = (*Memory)(nil)
	_ ports.EventSink  = Multi(nil)
	_ ports.JobTracker = (*MemoryTracker)(nil)
	_ ports.JobTracker = NopTracker{}
)

// Nop drops every event.
type Nop struct{}

// Append implements ports.EventSink.
func (Nop) Append(context.Context, domain.IngestEvent) error { return nil }

// Memory keeps events in arrival order.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	events []domain.IngestEvent
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements ports.EventSink.
func (m *Memory) Append(_ context.Context, ev domain.IngestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (m *Memory) Events() []domain.IngestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.IngestEvent(nil), m.events...)
}

// Count returns how many events carry reason.
func (m *Memory) Count(reason domain.EventReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Reason == reason {
			n++
		}
	}
	return n
}

// Multi fans an event out to every sink; all sinks are attempted.
type Multi []ports.EventSink

// Append implements ports.EventSink.
func (m Multi) Append(ctx context.Context, ev domain.IngestEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopTracker discards job updates.
type NopTracker struct{}

func (NopTracker) CreateJob(context.Context, domain.Job) error { return nil }
func (NopTracker) UpdateJob(context.Context, domain.Job) error { return nil }
func (NopTracker) GetJob(_ context.Context, id string) (domain.Job, error) {
	return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
}

// MemoryTracker keeps jobs in a map.
type MemoryTracker struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	// history records every status written, per job, for inspection.
	history map[string][]domain.Job
}

// NewMemoryTracker returns an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{jobs: map[string]domain.Job{}, history: map[string][]domain.Job{}}
}

// CreateJob implements ports.JobTracker.
func (t *MemoryTracker) CreateJob(_ context.Context, job domain.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	t.jobs[job.ID] = job
	t.history[job.ID] = append(t.history[job.ID], job)
	return nil
}

// UpdateJob implements ports.JobTracker.
func (t *MemoryTracker) UpdateJob(_ context.Context, job domain.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrNotFound)
	}
	t.jobs[job.ID] = job
	t.history[job.ID] = append(t.history[job.ID], job)
	return nil
}

// GetJob implements ports.JobTracker.
func (t *MemoryTracker) GetJob(_ context.Context, id string) (domain.Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

// History returns every version of a job in write order.
func (t *MemoryTracker) History(id string) []domain.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Job(nil), t.history[id]...)
}
