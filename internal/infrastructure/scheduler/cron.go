package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"NewsIngest/internal/ports"
)

// CronScheduler fires a job on a standard five-field cron expression.
type CronScheduler struct {
	spec     string
	location *time.Location

	mu   sync.Mutex
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler for spec evaluated in the given
// timezone ("" means UTC).
func NewCronScheduler(spec, timezone string) (*CronScheduler, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return &CronScheduler{spec: spec, location: loc}, nil
}

// Start registers job and starts the cron loop. Runs never overlap: a tick that
// arrives while the previous run is still going is skipped. The loop stops when
// ctx is done or Stop is called.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	cr := cron.New(
		cron.WithLocation(c.location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := cr.AddFunc(c.spec, func() { job(time.Now().In(c.location)) }); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	cr.Start()
	c.cron = cr

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()
	return nil
}

// Stop halts the cron loop and waits for a running job up to ctx's deadline.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return nil
	}

	done := cr.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports the next activation after now, or zero time when not running.
func (c *CronScheduler) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return time.Time{}
	}
	entries := c.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
