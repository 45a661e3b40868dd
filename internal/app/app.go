package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsIngest/internal/api"
	"NewsIngest/internal/canonical"
	"NewsIngest/internal/classify"
	"NewsIngest/internal/config"
	"NewsIngest/internal/domain"
	"NewsIngest/internal/filter"
	"NewsIngest/internal/infrastructure/httpfetch"
	"NewsIngest/internal/infrastructure/images"
	"NewsIngest/internal/infrastructure/kafka"
	"NewsIngest/internal/infrastructure/parser"
	"NewsIngest/internal/infrastructure/redisjobs"
	"NewsIngest/internal/infrastructure/scheduler"
	"NewsIngest/internal/infrastructure/storage"
	"NewsIngest/internal/infrastructure/telegram"
	"NewsIngest/internal/logging"
	"NewsIngest/internal/observe"
	"NewsIngest/internal/ports"
	"NewsIngest/internal/published"
	"NewsIngest/internal/scanner"
	"NewsIngest/internal/usecase"
)

// Application wires configs to use cases and owns every process-lifetime
// resource (database handle, producers, pools).
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *storage.Store
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	closers   []func() error
}

// New opens the store, applies migrations, seeds configured sources and
// builds the pipeline.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger.With("component", "app")}

	db, err := storage.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	a.store = storage.New(db, cfg.Database.Driver)
	if err := a.store.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := a.seedSources(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	fetcher := httpfetch.New(httpfetch.Config{
		Timeout:     cfg.HTTP.Timeout,
		Retries:     cfg.HTTP.Retries,
		Backoff:     cfg.HTTP.Backoff,
		MaxBackoff:  cfg.HTTP.MaxBackoff,
		UserAgent:   cfg.HTTP.UserAgent,
		PerHostRate: cfg.HTTP.PerHostRate,
		Burst:       cfg.HTTP.Burst,
		MaxBody:     cfg.HTTP.MaxBodySize,
	}, nil, baseLogger)

	registry := scanner.NewRegistry(
		parser.NewFeedScanner(fetcher),
		parser.NewHTMLScanner(fetcher),
		parser.NewSitemapScanner(fetcher),
	)
	gateway := parser.NewStrategySource(registry, baseLogger.With("component", "source"))

	deps := usecase.PipelineDeps{
		Sources:       a.store,
		Gateway:       gateway,
		Repository:    a.store,
		Events:        a.eventSink(baseLogger),
		Jobs:          a.jobTracker(ctx),
		Filter:        filter.New(filter.Config{DenyDomains: cfg.Filter.DenyDomains, DenyKeywords: cfg.Filter.DenyKeywords, ContentPhrases: cfg.Filter.ContentPhrases}),
		Canonicalizer: canonical.New(cfg.Canonical.TrackingParams),
		Resolver:      published.NewResolver(),
		Classifier: classify.New(classify.Config{
			PreseasonMonths: cfg.Pipeline.Months(),
			Roster:          cfg.Pipeline.Roster,
			JunkPolicy:      classify.JunkPolicy(cfg.Pipeline.JunkPolicy),
		}),
		Logger:       baseLogger,
		Workers:      cfg.Pipeline.Workers,
		DefaultLimit: cfg.Pipeline.DefaultLimit,
	}
	if cfg.Pipeline.FetchPages {
		deps.Fetcher = fetcher
	}
	if cfg.Pipeline.BackfillImages {
		deps.Images = images.NewFinder(fetcher, baseLogger)
	}
	if n := telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID); n.Configured() {
		deps.Notifier = n
	}
	a.pipeline = usecase.NewPipeline(deps)

	if cfg.Scheduler.Enabled {
		driver, err := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Timezone)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		a.scheduler = usecase.NewScheduler(driver, a.pipeline, cfg.Scheduler.PerSourceLimit, baseLogger)
	}
	return a, nil
}

// Pipeline exposes the use case for one-shot commands.
func (a *Application) Pipeline() *usecase.Pipeline {
	return a.pipeline
}

// Store exposes the relational store.
func (a *Application) Store() *storage.Store {
	return a.store
}

// Serve runs the HTTP trigger surface and, when enabled, the scheduler until
// ctx is done. Background runs are drained before returning.
func (a *Application) Serve(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression, "timezone", a.cfg.Scheduler.Location().String())
	}

	server := api.NewServer(a.pipeline, a.store, a.store, a.logger)
	err := server.Run(ctx, a.cfg.API.Addr)

	if a.scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if stopErr := a.scheduler.Stop(stopCtx); stopErr != nil {
			a.logger.Warn("stop scheduler", "error", stopErr)
		}
		cancel()
	}
	a.pipeline.Wait()
	return err
}

// Close releases resources in reverse acquisition order.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) seedSources(ctx context.Context) error {
	for _, s := range a.cfg.Sources {
		if s.ID == "" {
			a.logger.Warn("skipping source without id", "url", s.URL)
			continue
		}
		src := domain.Source{
			ID:       s.ID,
			Name:     s.Name,
			Allowed:  s.IsAllowed(),
			Adapter:  s.Adapter,
			FeedURL:  s.URL,
			Selector: s.Selector,
			Options:  s.Options,
		}
		if src.Name == "" {
			src.Name = s.ID
		}
		if err := a.store.UpsertSource(ctx, src); err != nil {
			return fmt.Errorf("seed source %s: %w", s.ID, err)
		}
	}
	return nil
}

// eventSink always records to the store; Kafka is added when configured and
// reachable.
func (a *Application) eventSink(logger *slog.Logger) ports.EventSink {
	sinks := observe.Multi{a.store}
	if a.cfg.Events.Kafka.Enabled() {
		sink, err := kafka.NewSink(kafka.Config{Brokers: a.cfg.Events.Kafka.Brokers, Topic: a.cfg.Events.Kafka.Topic}, logger)
		if err != nil {
			a.logger.Warn("kafka sink disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
			a.closers = append(a.closers, sink.Close)
		}
	}
	return sinks
}

// jobTracker prefers Redis when configured and falls back to the store.
func (a *Application) jobTracker(ctx context.Context) ports.JobTracker {
	rc := a.cfg.Jobs.Redis
	if rc.Addr == "" {
		return a.store
	}
	tracker, err := redisjobs.New(ctx, redisjobs.Config{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, TTL: rc.TTL})
	if err != nil {
		a.logger.Warn("redis job tracker disabled", "error", err)
		return a.store
	}
	a.closers = append(a.closers, tracker.Close)
	return tracker
}
