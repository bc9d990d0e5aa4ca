// Package main implements the entry point for the pagehaul worker, which
// pulls page tasks from the broker and executes them against a pool of
// headless browser sessions.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/pagehaul/pagehaul/internal/api"
	"github.com/pagehaul/pagehaul/internal/broker"
	"github.com/pagehaul/pagehaul/internal/browser"
	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/events"
	"github.com/pagehaul/pagehaul/internal/filter"
	"github.com/pagehaul/pagehaul/internal/handler"
	"github.com/pagehaul/pagehaul/internal/platform/logger"
	"github.com/pagehaul/pagehaul/internal/registry"
	"github.com/pagehaul/pagehaul/internal/results"
	"github.com/pagehaul/pagehaul/internal/scorer"
	"github.com/pagehaul/pagehaul/internal/worker"
)

func main() {
	concurrency := flag.Int("concurrency", 0, "worker slots; overrides PAGEHAUL_WORKER_CONCURRENCY")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error); overrides PAGEHAUL_SERVER_LOG_LEVEL")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using process environment")
	}

	if err := run(*concurrency, *logLevel); err != nil {
		slog.Error("worker failed to start", "error", err)
		os.Exit(1)
	}
}

// run wires the application together and blocks until shutdown completes.
func run(concurrency int, logLevel string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if concurrency > 0 {
		cfg.Worker.Concurrency = concurrency
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	log := logger.Setup(cfg.Server.LogLevel)
	log.Info("worker configuration loaded",
		"concurrency", cfg.Worker.Concurrency,
		"broker_queue", cfg.Broker.Queue,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	// Startup inputs. A missing blacklist or dataset is fatal; the worker
	// must not run with a partial pipeline.
	blockSet, err := loadFilter(cfg.Filter, log)
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}

	model, err := scorer.LoadFile(cfg.Scorer.DatasetPath)
	if err != nil {
		return fmt.Errorf("failed to load scoring dataset: %w", err)
	}
	log.Info("scoring model fitted", "features", model.Features())

	launcher, err := browser.NewHeadlessLauncher(browser.HeadlessConfig{
		Binary:          cfg.Browser.Binary,
		UserAgent:       cfg.Browser.UserAgent,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
	}, log)
	if err != nil {
		return err
	}

	pool := browser.NewPool(launcher, browser.PoolConfig{
		Capacity:       cfg.Browser.PoolCapacity,
		AcquireTimeout: cfg.Browser.AcquireTimeout,
		MaxSessionAge:  cfg.Browser.MaxSessionAge,
		MaxSessionUses: cfg.Browser.MaxSessionUses,
	}, log)
	defer pool.Close()

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	taskBroker, err := broker.NewRedisBroker(startupCtx, broker.RedisConfig{
		Addr:              cfg.Broker.Addr,
		Password:          cfg.Broker.Password,
		DB:                cfg.Broker.DB,
		Queue:             cfg.Broker.Queue,
		PollTimeout:       cfg.Broker.PollTimeout,
		VisibilityTimeout: cfg.Broker.VisibilityTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskBroker.Close(); err != nil {
			log.Warn("broker close failed", "error", err)
		}
	}()

	emitter := events.NewInMemoryEmitter(log)
	emitter.RegisterHandler(events.NewLogHandler(log))

	if cfg.Database.URL != "" {
		db, err := sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open result database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Warn("result database close failed", "error", err)
			}
		}()
		if err := db.PingContext(startupCtx); err != nil {
			return fmt.Errorf("failed to connect to result database: %w", err)
		}
		if err := results.Migrate(db, log); err != nil {
			return fmt.Errorf("failed to migrate result database: %w", err)
		}
		emitter.RegisterHandler(results.NewStoreHandler(results.NewPostgresStore(db, log)))
		log.Info("result persistence enabled")
	}

	reg := registry.New(log)
	if err := reg.Register(handler.TypeScrape, handler.NewScrapeHandler(log)); err != nil {
		return err
	}
	if err := reg.Register(handler.TypeSnapshot, handler.NewSnapshotHandler(log)); err != nil {
		return err
	}

	deps := registry.Deps{Sessions: pool, Filter: blockSet, Scorer: model}
	manager := worker.New(taskBroker, reg, deps, emitter, worker.Config{
		Concurrency:      cfg.Worker.Concurrency,
		MaxRetries:       cfg.Worker.MaxRetries,
		TaskTimeout:      cfg.Worker.TaskTimeout,
		ShutdownGrace:    cfg.Worker.ShutdownGrace,
		PollInterval:     cfg.Worker.PollInterval,
		RetryBackoffBase: cfg.Worker.RetryBackoffBase,
		RetryBackoffMax:  cfg.Worker.RetryBackoffMax,
		RetryPolicy:      worker.RetryPolicy(cfg.Worker.RetryPolicy),
		ReclaimInterval:  cfg.Worker.ReclaimInterval,
	}, log)
	manager.Start()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(api.NewOpsHandler(manager, pool, log)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return fmt.Errorf("ops server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining")
	manager.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops server shutdown failed", "error", err)
	}

	log.Info("worker stopped cleanly")
	return nil
}

// loadFilter builds the blacklist set. An unset path means nothing is
// filtered, which is a deliberate configuration, not an error.
func loadFilter(cfg config.FilterConfig, log *slog.Logger) (*filter.Set, error) {
	if cfg.Path == "" {
		log.Warn("no blacklist configured, all targets allowed")
		return filter.Load(strings.NewReader(""))
	}
	set, err := filter.LoadFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	log.Info("blacklist loaded", "path", cfg.Path, "entries", set.Len())
	return set, nil
}
