// Package main implements a small producer CLI for submitting tasks to the
// pagehaul queue, mainly for operations and smoke testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/pagehaul/pagehaul/internal/broker"
	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/domain"
	"github.com/pagehaul/pagehaul/internal/platform/logger"
)

func main() {
	taskType := flag.String("type", "scrape", "task type to enqueue")
	target := flag.String("target", "", "target URL for the task (required)")
	count := flag.Int("count", 1, "number of copies to enqueue")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using process environment")
	}

	if err := run(*taskType, *target, *count); err != nil {
		slog.Error("enqueue failed", "error", err)
		os.Exit(1)
	}
}

func run(taskType, target string, count int) error {
	if target == "" {
		return fmt.Errorf("missing required flag -target")
	}
	if count < 1 {
		return fmt.Errorf("-count must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.Setup(cfg.Server.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	taskBroker, err := broker.NewRedisBroker(ctx, broker.RedisConfig{
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

	for i := 0; i < count; i++ {
		task := &domain.Task{
			ID:         uuid.NewString(),
			Type:       taskType,
			Args:       map[string]any{"target": target},
			EnqueuedAt: time.Now().UTC(),
			Status:     domain.TaskStatusPending,
		}
		if err := taskBroker.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
		}
		log.Info("task enqueued", "task_id", task.ID, "task_type", taskType, "target", target)
	}
	return nil
}
