package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// RedisConfig holds connection and queue settings for the Redis broker.
type RedisConfig struct {
	// Addr is the Redis host:port.
	Addr string

	// Password authenticates the connection when non-empty.
	Password string

	// DB selects the Redis logical database.
	DB int

	// Queue is the key prefix for this worker's queue structures.
	Queue string

	// PollTimeout is how long a single Poll blocks waiting for work.
	PollTimeout time.Duration

	// VisibilityTimeout is how long a delivery may stay unacknowledged
	// before it is considered lost and reclaimed.
	VisibilityTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with reasonable defaults
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Queue:             "pagehaul:tasks",
		PollTimeout:       2 * time.Second,
		VisibilityTimeout: 10 * time.Minute,
	}
}

// RedisBroker is a Redis list-backed broker. Ready tasks live on a list,
// delayed requeues on a sorted set scored by their ready time, and
// unacknowledged deliveries in a hash keyed by delivery token with their
// visibility deadlines on a second sorted set.
type RedisBroker struct {
	client *redis.Client
	config RedisConfig
	logger *slog.Logger
}

// NewRedisBroker connects to Redis and verifies the connection. A failed
// ping is a startup-fatal error: the engine must not come up without its
// broker.
func NewRedisBroker(ctx context.Context, config RedisConfig, logger *slog.Logger) (*RedisBroker, error) {
	if config.Queue == "" {
		config.Queue = DefaultRedisConfig().Queue
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultRedisConfig().PollTimeout
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = DefaultRedisConfig().VisibilityTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to broker at %s: %v",
			domain.ErrFatalStartup, config.Addr, err)
	}

	return &RedisBroker{
		client: client,
		config: config,
		logger: logger.With("component", "redis_broker"),
	}, nil
}

func (b *RedisBroker) readyKey() string    { return b.config.Queue + ":ready" }
func (b *RedisBroker) delayedKey() string  { return b.config.Queue + ":delayed" }
func (b *RedisBroker) inflightKey() string { return b.config.Queue + ":inflight" }
func (b *RedisBroker) deadlineKey() string { return b.config.Queue + ":inflight:deadlines" }

// Enqueue pushes a task onto the ready queue.
func (b *RedisBroker) Enqueue(ctx context.Context, task *domain.Task) error {
	data, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := b.client.LPush(ctx, b.readyKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Poll promotes due delayed tasks, then blocks up to PollTimeout for the
// next ready task. A delivered task is parked in the in-flight set under a
// fresh delivery token until acked or nacked.
func (b *RedisBroker) Poll(ctx context.Context) (*domain.Task, error) {
	if err := b.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	result, err := b.client.BRPop(ctx, b.config.PollTimeout, b.readyKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to poll broker: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result: %v", result)
	}

	task, err := domain.UnmarshalTask([]byte(result[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}

	token := uuid.NewString()
	deadline := time.Now().Add(b.config.VisibilityTimeout)

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.inflightKey(), token, result[1])
	pipe.ZAdd(ctx, b.deadlineKey(), redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: token,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to park in-flight task %s: %w", task.ID, err)
	}

	task.DeliveryToken = token
	return task, nil
}

// Ack removes a delivery from the in-flight set permanently.
func (b *RedisBroker) Ack(ctx context.Context, task *domain.Task) error {
	if task.DeliveryToken == "" {
		return fmt.Errorf("task %s has no delivery token", task.ID)
	}

	pipe := b.client.TxPipeline()
	pipe.HDel(ctx, b.inflightKey(), task.DeliveryToken)
	pipe.ZRem(ctx, b.deadlineKey(), task.DeliveryToken)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack task %s: %w", task.ID, err)
	}
	return nil
}

// Nack removes the delivery and requeues the task, onto the delayed set
// when requeueDelay is positive and straight back to ready otherwise.
func (b *RedisBroker) Nack(ctx context.Context, task *domain.Task, requeueDelay time.Duration) error {
	if task.DeliveryToken == "" {
		return fmt.Errorf("task %s has no delivery token", task.ID)
	}

	data, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HDel(ctx, b.inflightKey(), task.DeliveryToken)
	pipe.ZRem(ctx, b.deadlineKey(), task.DeliveryToken)
	if requeueDelay > 0 {
		pipe.ZAdd(ctx, b.delayedKey(), redis.Z{
			Score:  float64(time.Now().Add(requeueDelay).UnixMilli()),
			Member: data,
		})
	} else {
		pipe.LPush(ctx, b.readyKey(), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack task %s: %w", task.ID, err)
	}
	return nil
}

// ReclaimExpired sweeps deliveries whose visibility deadline passed back
// onto the ready queue. Duplicate delivery is possible here; the engine is
// retry-safe by contract.
func (b *RedisBroker) ReclaimExpired(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	tokens, err := b.client.ZRangeByScore(ctx, b.deadlineKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired deliveries: %w", err)
	}

	reclaimed := 0
	for _, token := range tokens {
		data, err := b.client.HGet(ctx, b.inflightKey(), token).Result()
		if errors.Is(err, redis.Nil) {
			// Acked concurrently; just drop the stale deadline.
			b.client.ZRem(ctx, b.deadlineKey(), token)
			continue
		}
		if err != nil {
			return reclaimed, fmt.Errorf("failed to load expired delivery: %w", err)
		}

		pipe := b.client.TxPipeline()
		pipe.LPush(ctx, b.readyKey(), data)
		pipe.HDel(ctx, b.inflightKey(), token)
		pipe.ZRem(ctx, b.deadlineKey(), token)
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, fmt.Errorf("failed to reclaim delivery: %w", err)
		}
		reclaimed++
	}

	if reclaimed > 0 {
		b.logger.Warn("reclaimed expired deliveries", "count", reclaimed)
	}
	return reclaimed, nil
}

// Close releases the underlying Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// promoteDelayed moves tasks whose requeue delay elapsed from the delayed
// set to the ready queue. ZRem gates the push so concurrent pollers cannot
// promote the same entry twice.
func (b *RedisBroker) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list due delayed tasks: %w", err)
	}

	for _, data := range due {
		removed, err := b.client.ZRem(ctx, b.delayedKey(), data).Result()
		if err != nil {
			return fmt.Errorf("failed to promote delayed task: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, b.readyKey(), data).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed task: %w", err)
		}
	}
	return nil
}
