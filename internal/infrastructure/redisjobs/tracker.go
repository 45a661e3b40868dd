// Package redisjobs keeps ephemeral job progress in Redis with a TTL.
package redisjobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
)

// DefaultTTL bounds how long finished jobs remain visible.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "newsingest:job:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Tracker implements ports.JobTracker on a Redis string per job.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.JobTracker = (*Tracker)(nil)

type record struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Status          domain.JobStatus `json:"status"`
	ProgressCurrent int              `json:"progress_current"`
	ProgressTotal   int              `json:"progress_total"`
	LastMessage     string           `json:"last_message,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}

// New connects and pings the server.
func New(ctx context.Context, cfg Config) (*Tracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{client: client, ttl: ttl}
}

// CreateJob stores a new job.
func (t *Tracker) CreateJob(ctx context.Context, job domain.Job) error {
	return t.put(ctx, job)
}

// UpdateJob overwrites a job and refreshes its TTL.
func (t *Tracker) UpdateJob(ctx context.Context, job domain.Job) error {
	return t.put(ctx, job)
}

// GetJob loads a job or returns domain.ErrNotFound.
func (t *Tracker) GetJob(ctx context.Context, id string) (domain.Job, error) {
	raw, err := t.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return domain.Job{
		ID:              rec.ID,
		Type:            rec.Type,
		Status:          rec.Status,
		ProgressCurrent: rec.ProgressCurrent,
		ProgressTotal:   rec.ProgressTotal,
		LastMessage:     rec.LastMessage,
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
	}, nil
}

// Close releases the connection pool.
func (t *Tracker) Close() error {
	return t.client.Close()
}

func (t *Tracker) put(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(record{
		ID:              job.ID,
		Type:            job.Type,
		Status:          job.Status,
		ProgressCurrent: job.ProgressCurrent,
		ProgressTotal:   job.ProgressTotal,
		LastMessage:     job.LastMessage,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := t.client.Set(ctx, keyPrefix+job.ID, payload, t.ttl).Err(); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}
