package api

import (
	"time"

	"NewsIngest/internal/domain"
)

type summaryResponse struct {
	SourceID      string    `json:"source_id"`
	JobID         string    `json:"job_id,omitempty"`
	Total         int       `json:"total"`
	Filtered      int       `json:"filtered"`
	Inserted      int       `json:"inserted"`
	Updated       int       `json:"updated"`
	Skipped       int       `json:"skipped"`
	Errors        int       `json:"errors"`
	FetchFailures int       `json:"fetch_failures"`
	Cancelled     bool      `json:"cancelled"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

type jobResponse struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	ProgressCurrent int        `json:"progress_current"`
	ProgressTotal   int        `json:"progress_total"`
	LastMessage     string     `json:"last_message"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

type eventResponse struct {
	ID        int64     `json:"id"`
	SourceID  string    `json:"source_id"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain,omitempty"`
	Title     string    `json:"title,omitempty"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toSummary(s domain.RunSummary) summaryResponse {
	return summaryResponse{
		SourceID:      s.SourceID,
		JobID:         s.JobID,
		Total:         s.Total,
		Filtered:      s.Filtered,
		Inserted:      s.Inserted,
		Updated:       s.Updated,
		Skipped:       s.Skipped,
		Errors:        s.Errors,
		FetchFailures: s.FetchFailures,
		Cancelled:     s.Cancelled,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
}

func toSummaries(in []domain.RunSummary) []summaryResponse {
	out := make([]summaryResponse, 0, len(in))
	for _, s := range in {
		out = append(out, toSummary(s))
	}
	return out
}

func toJob(j domain.Job) jobResponse {
	return jobResponse{
		ID:              j.ID,
		Type:            j.Type,
		Status:          string(j.Status),
		ProgressCurrent: j.ProgressCurrent,
		ProgressTotal:   j.ProgressTotal,
		LastMessage:     j.LastMessage,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}

func toEvents(in []domain.IngestEvent) []eventResponse {
	out := make([]eventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, eventResponse{
			ID:        e.ID,
			SourceID:  e.SourceID,
			URL:       e.URL,
			Domain:    e.Domain,
			Title:     e.Title,
			Reason:    string(e.Reason),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
