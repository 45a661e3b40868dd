// Package api exposes the ingest triggers and job polling over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/usecase"
)

// Ingestor is the slice of the pipeline the HTTP surface drives.
type Ingestor interface {
	IngestSource(ctx context.Context, sourceID string, limit int) (domain.RunSummary, error)
	IngestAll(ctx context.Context, perSourceLimit int) ([]domain.RunSummary, error)
	StartIngestSource(ctx context.Context, sourceID string, limit int) (string, error)
	StartIngestAll(ctx context.Context, perSourceLimit int) (string, error)
	Job(ctx context.Context, id string) (domain.Job, error)
}

// EventLister reads the ingest audit log.
type EventLister interface {
	ListEvents(ctx context.Context, sourceID string, limit int) ([]domain.IngestEvent, error)
}

// HealthChecker reports backing store health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// maxLimit caps the limit query parameter.
const maxLimit = 500

// Server holds the HTTP handlers.
type Server struct {
	ingest Ingestor
	events EventLister
	health HealthChecker
	logger *slog.Logger
}

// NewServer wires the handlers; events and health may be nil.
func NewServer(ingest Ingestor, events EventLister, health HealthChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{ingest: ingest, events: events, health: health, logger: logger.With("component", "api")}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.handleHealth)

	g := r.Group("/api")
	g.POST("/sources/:id/ingest", s.handleIngestSource)
	g.POST("/ingest", s.handleIngestAll)
	g.GET("/jobs/:id", s.handleJob)
	g.GET("/sources/:id/events", s.handleEvents)
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIngestSource(c *gin.Context) {
	id := c.Param("id")
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	if queryBool(c, "async") {
		jobID, err := s.ingest.StartIngestSource(c.Request.Context(), id, limit)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
		return
	}

	summary, err := s.ingest.IngestSource(c.Request.Context(), id, limit)
	if err != nil && summary.JobID == "" {
		s.writeError(c, err)
		return
	}
	resp := toSummary(summary)
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusBadGateway
	}
	c.JSON(status, resp)
}

func (s *Server) handleIngestAll(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	if queryBool(c, "async") {
		jobID, err := s.ingest.StartIngestAll(c.Request.Context(), limit)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
		return
	}

	summaries, err := s.ingest.IngestAll(c.Request.Context(), limit)
	resp := gin.H{"sources": toSummaries(summaries)}
	if err != nil {
		if len(summaries) == 0 {
			s.writeError(c, err)
			return
		}
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleJob(c *gin.Context) {
	job, err := s.ingest.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJob(job))
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event log is not available"})
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	events, err := s.events.ListEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": toEvents(events)})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrSourceNotFound), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrSourceDenied):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// queryLimit parses ?limit=; absent means 0 (pipeline default). It writes a
// 400 and returns false on bad input.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
