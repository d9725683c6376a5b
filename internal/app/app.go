// Package app assembles the watcher, index, search service and the optional
// cache and event sinks from a Config, and owns their start and shutdown
// order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/index"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/search"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/token"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/live-index/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
)

// App is a wired, not yet started, live index.
type App struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Index   *index.Index
	Search  *search.Service
	Watcher *watcher.Watcher
	Checker *health.Checker
	// Cache and Journal are nil when their backing store is disabled or
	// unreachable.
	Cache   *cache.WordCache
	Journal *sink.Journal

	sinks       []*sink.Batcher
	closers     []func() error
	stopMetrics func(context.Context) error
	logger      *slog.Logger
}

// New builds every component described by cfg. Optional stores that cannot
// be reached are logged and skipped. reg receives the Prometheus collectors;
// nil uses the default registry.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(reg),
		Index:   index.New(),
		Checker: health.NewChecker(),
		logger:  slog.Default().With("component", "app"),
	}

	interner, err := token.NewInterner(cfg.Index.Interner, cfg.Index.InternerSize)
	if err != nil {
		return nil, fmt.Errorf("creating interner: %w", err)
	}
	tokenizer := token.NewTokenizer(interner, cfg.Index.Lowercase)

	opts := []search.Option{search.WithMetrics(a.Metrics)}
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.logger.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			a.closers = append(a.closers, rc.Close)
			a.Cache = cache.New(rc, cfg.Redis.CacheTTL, a.Metrics)
			opts = append(opts, search.WithCache(a.Cache))
			a.Checker.Register("redis", health.Ping("redis", true, rc.Ping))
			a.logger.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	a.Search = search.New(cfg.Index, tokenizer, a.Index, opts...)

	a.Watcher = watcher.New(cfg.Watcher, a.Metrics)
	if err := a.Watcher.RegisterListener(a.Search); err != nil {
		return nil, err
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		a.closers = append(a.closers, producer.Close)
		if err := a.addSink(sink.NewBatcher("kafka", sink.NewKafkaWriter(producer), cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval, a.Metrics)); err != nil {
			return nil, err
		}
		a.logger.Info("kafka export enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if cfg.Postgres.Enabled {
		if err := a.openJournal(ctx); err != nil {
			a.logger.Warn("postgres unavailable, change journal disabled", "error", err)
		}
	}

	a.registerChecks()
	return a, nil
}

func (a *App) openJournal(ctx context.Context) error {
	pc, err := postgres.New(ctx, a.Config.Postgres)
	if err != nil {
		return err
	}
	journal := sink.NewJournal(pc)
	if err := journal.EnsureSchema(ctx); err != nil {
		_ = pc.Close()
		return err
	}
	a.closers = append(a.closers, pc.Close)
	a.Journal = journal
	a.Checker.Register("postgres", health.Ping("postgres", true, journal.Ping))
	a.logger.Info("change journal enabled", "host", a.Config.Postgres.Host, "database", a.Config.Postgres.Database)
	return a.addSink(sink.NewBatcher("journal", journal, a.Config.Postgres.BatchSize, a.Config.Postgres.FlushInterval, a.Metrics))
}

func (a *App) addSink(b *sink.Batcher) error {
	if err := a.Watcher.RegisterListener(b); err != nil {
		return err
	}
	a.sinks = append(a.sinks, b)
	return nil
}

func (a *App) registerChecks() {
	a.Checker.Register("watcher", func(context.Context) health.ComponentHealth {
		stats := a.Watcher.Stats()
		details := map[string]any{
			"cycles":     stats.Cycles,
			"files_seen": stats.FilesSeen,
			"errors":     stats.Errors,
		}
		if !a.Watcher.Running() {
			return health.ComponentHealth{Status: health.StatusDown, Message: "not running", Details: details}
		}
		return health.ComponentHealth{Status: health.StatusUp, Details: details}
	})
	a.Checker.Register("index", func(context.Context) health.ComponentHealth {
		stats := a.Search.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d containers, %d tokens", stats.Containers, stats.Tokens),
			Details: map[string]any{"pending": stats.Pending, "failed": stats.Failed},
		}
	})
}

// Start launches the sinks, the optional metrics server and finally the
// watcher. The components stop when ctx is cancelled or Close is called.
func (a *App) Start(ctx context.Context) error {
	for _, b := range a.sinks {
		b.Start(ctx)
	}
	if a.Config.Metrics.Enabled && a.stopMetrics == nil {
		a.stopMetrics = a.Metrics.StartServer(a.Config.Metrics.Port)
	}
	if err := a.Watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	a.logger.Info("live index started",
		"roots", a.Config.Watcher.Roots,
		"poll_interval", a.Config.Watcher.PollInterval,
		"digest", a.Config.Watcher.Digest,
		"workers", a.Config.Index.Workers,
	)
	return nil
}

// WaitSynced blocks until the watcher has completed a cycle and every event
// it emitted so far has been applied to the index, or ctx ends.
func (a *App) WaitSynced(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		w, s := a.Watcher.Stats(), a.Search.Stats()
		if w.Cycles > 0 && s.Applied+s.Failed >= w.Creates+w.Updates+w.Deletes {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the watcher first so no new events arrive, drains the index
// workers and the sinks, then releases the external clients.
func (a *App) Close() error {
	var errs []error
	errs = append(errs, a.Watcher.Close(), a.Search.Close())
	for _, b := range a.sinks {
		errs = append(errs, b.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if a.stopMetrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		errs = append(errs, a.stopMetrics(ctx))
		cancel()
	}
	a.logger.Info("live index stopped")
	return errors.Join(errs...)
}
