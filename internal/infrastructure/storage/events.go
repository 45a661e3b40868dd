package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
)

var (
	_ ports.EventSink     = (*Store)(nil)
	_ ports.JobTracker    = (*Store)(nil)
	_ ports.SourceCatalog = (*Store)(nil)
)

// Append stores one ingest event. Rows are never updated.
func (s *Store) Append(ctx context.Context, ev domain.IngestEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, s.sb.Insert("ingest_events").
		Columns("source_id", "url", "domain", "title", "reason", "detail", "created_at").
		Values(ev.SourceID, ev.URL, ev.Domain, ev.Title, string(ev.Reason), ev.Detail, s.ts(ev.CreatedAt)))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events for a source, newest first. An empty
// sourceID lists every source.
func (s *Store) ListEvents(ctx context.Context, sourceID string, limit int) ([]domain.IngestEvent, error) {
	b := s.sb.Select("id", "source_id", "url", "domain", "title", "reason", "detail", "created_at").
		From("ingest_events").
		OrderBy("id DESC")
	if sourceID != "" {
		b = b.Where(sq.Eq{"source_id": sourceID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.IngestEvent
	for rows.Next() {
		var (
			ev        domain.IngestEvent
			reason    string
			createdAt sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.SourceID, &ev.URL, &ev.Domain, &ev.Title, &reason, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Reason = domain.EventReason(reason)
		ev.CreatedAt = mustTS(createdAt)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// CreateJob implements ports.JobTracker.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	if job.StartedAt.IsZero() {
		job.StartedAt = s.now()
	}
	_, err := s.exec(ctx, s.sb.Insert("jobs").
		Columns("id", "type", "status", "progress_current", "progress_total", "last_message", "started_at", "finished_at").
		Values(job.ID, job.Type, string(job.Status), job.ProgressCurrent, job.ProgressTotal, job.LastMessage, s.ts(job.StartedAt), s.tsPtr(job.FinishedAt)))
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob implements ports.JobTracker.
func (s *Store) UpdateJob(ctx context.Context, job domain.Job) error {
	res, err := s.exec(ctx, s.sb.Update("jobs").
		SetMap(map[string]any{
			"status":           string(job.Status),
			"progress_current": job.ProgressCurrent,
			"progress_total":   job.ProgressTotal,
			"last_message":     job.LastMessage,
			"finished_at":      s.tsPtr(job.FinishedAt),
		}).
		Where(sq.Eq{"id": job.ID}))
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// GetJob implements ports.JobTracker.
func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row, err := s.queryRow(ctx, s.sb.Select("id", "type", "status", "progress_current", "progress_total", "last_message", "started_at", "finished_at").
		From("jobs").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Job{}, err
	}
	var (
		job                 domain.Job
		status              string
		startedAt, finished sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Type, &status, &job.ProgressCurrent, &job.ProgressTotal, &job.LastMessage, &startedAt, &finished); err != nil {
		return domain.Job{}, notFound(err, "get job "+id)
	}
	job.Status = domain.JobStatus(status)
	job.StartedAt = mustTS(startedAt)
	job.FinishedAt = parseTS(finished)
	return job, nil
}

var sourceColumns = []string{"id", "name", "allowed", "adapter", "feed_url", "selector", "options"}

// GetSource implements ports.SourceCatalog.
func (s *Store) GetSource(ctx context.Context, id string) (domain.Source, error) {
	row, err := s.queryRow(ctx, s.sb.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Source{}, err
	}
	src, err := scanSource(row)
	if err != nil {
		return domain.Source{}, notFound(err, "get source "+id)
	}
	return src, nil
}

// ListAllowedSources implements ports.SourceCatalog.
func (s *Store) ListAllowedSources(ctx context.Context) ([]domain.Source, error) {
	return s.listSources(ctx, sq.Eq{"allowed": true})
}

// ListSources returns every source, allowed or not.
func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	return s.listSources(ctx, nil)
}

func (s *Store) listSources(ctx context.Context, where sq.Sqlizer) ([]domain.Source, error) {
	b := s.sb.Select(sourceColumns...).From("sources").OrderBy("id")
	if where != nil {
		b = b.Where(where)
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// UpsertSource seeds a source definition from configuration. On conflict the
// descriptive columns are refreshed but allowed is left as stored, so a deny
// set by the admin surface survives restarts.
func (s *Store) UpsertSource(ctx context.Context, src domain.Source) error {
	opts, err := json.Marshal(src.Options)
	if err != nil {
		return fmt.Errorf("encode source options: %w", err)
	}
	if src.Options == nil {
		opts = []byte("{}")
	}
	_, err = s.exec(ctx, s.sb.Insert("sources").
		Columns(sourceColumns...).
		Values(src.ID, src.Name, src.Allowed, src.Adapter, src.FeedURL, src.Selector, string(opts)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			adapter = excluded.adapter,
			feed_url = excluded.feed_url,
			selector = excluded.selector,
			options = excluded.options`))
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", src.ID, err)
	}
	return nil
}

func scanSource(r rowScanner) (domain.Source, error) {
	var (
		src  domain.Source
		opts string
	)
	if err := r.Scan(&src.ID, &src.Name, &src.Allowed, &src.Adapter, &src.FeedURL, &src.Selector, &opts); err != nil {
		return domain.Source{}, err
	}
	if opts != "" && opts != "{}" {
		if err := json.Unmarshal([]byte(opts), &src.Options); err != nil {
			return domain.Source{}, fmt.Errorf("decode options for %s: %w", src.ID, err)
		}
	}
	return src, nil
}
