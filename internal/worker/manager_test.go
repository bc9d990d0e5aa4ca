package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagehaul/pagehaul/internal/broker"
	"github.com/pagehaul/pagehaul/internal/domain"
	"github.com/pagehaul/pagehaul/internal/registry"
)

// mockHandler is a scriptable registry handler that tracks concurrency.
type mockHandler struct {
	validateErr error
	execFn      func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error)

	calls   atomic.Int64
	running atomic.Int64
	peak    atomic.Int64
}

func (h *mockHandler) Validate(args map[string]any) error {
	return h.validateErr
}

func (h *mockHandler) Execute(ctx context.Context, task *domain.Task, deps registry.Deps) (*domain.TaskResult, error) {
	h.calls.Add(1)
	running := h.running.Add(1)
	defer h.running.Add(-1)
	for {
		peak := h.peak.Load()
		if running <= peak || h.peak.CompareAndSwap(peak, running) {
			break
		}
	}

	if h.execFn != nil {
		return h.execFn(ctx, task)
	}
	return domain.SuccessResult(nil), nil
}

// recordingEmitter captures every emitted result.
type recordingEmitter struct {
	mu      sync.Mutex
	results []*domain.TaskResult
}

func (e *recordingEmitter) EmitResult(ctx context.Context, result *domain.TaskResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, result)
	return nil
}

func (e *recordingEmitter) snapshot() []*domain.TaskResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.TaskResult, len(e.results))
	copy(out, e.results)
	return out
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.results)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testConfig returns a Config tuned for fast tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.TaskTimeout = 5 * time.Second
	cfg.ShutdownGrace = 2 * time.Second
	cfg.RetryBackoffBase = time.Millisecond
	cfg.RetryBackoffMax = 10 * time.Millisecond
	cfg.ReclaimInterval = 0
	return cfg
}

type testEngine struct {
	broker  *broker.MemoryBroker
	manager *Manager
	emitter *recordingEmitter
}

func newTestEngine(t *testing.T, cfg Config, register func(r *registry.Registry)) *testEngine {
	t.Helper()

	b := broker.NewMemoryBroker()
	reg := registry.New(testLogger())
	register(reg)
	emitter := &recordingEmitter{}

	m := New(b, reg, registry.Deps{}, emitter, cfg, testLogger())
	m.Start()
	t.Cleanup(m.Stop)

	return &testEngine{broker: b, manager: m, emitter: emitter}
}

func enqueue(t *testing.T, b *broker.MemoryBroker, id, taskType string) {
	t.Helper()
	require.NoError(t, b.Enqueue(context.Background(), &domain.Task{
		ID:         id,
		Type:       taskType,
		Args:       map[string]any{"target": "https://example.com"},
		EnqueuedAt: time.Now(),
		Status:     domain.TaskStatusPending,
	}))
}

func TestManagerTaskSucceeds(t *testing.T) {
	t.Parallel()

	h := &mockHandler{}
	eng := newTestEngine(t, testConfig(), func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	results := eng.emitter.snapshot()
	assert.Equal(t, domain.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, "t1", results[0].TaskID)
	assert.Equal(t, 1, results[0].Attempts)

	// Acknowledged: nothing pending, nothing in flight at the broker.
	assert.Eventually(t, func() bool {
		return eng.broker.Pending() == 0 && eng.broker.Inflight() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestManagerUnknownTaskTypeIsPoison(t *testing.T) {
	t.Parallel()

	h := &mockHandler{}
	eng := newTestEngine(t, testConfig(), func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "ghost-task")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	results := eng.emitter.snapshot()
	assert.Equal(t, domain.OutcomeFailure, results[0].Outcome)
	assert.Contains(t, results[0].Error, "unknown task type")
	assert.Equal(t, 1, results[0].Attempts, "poison messages are acknowledged without retry")
	assert.Equal(t, int64(0), h.calls.Load())

	// Acked immediately, never redelivered.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, eng.broker.Pending())
	assert.Equal(t, 0, eng.broker.Inflight())
	assert.Equal(t, 1, eng.emitter.count())
}

func TestManagerValidationFailureNotRetried(t *testing.T) {
	t.Parallel()

	h := &mockHandler{validateErr: fmt.Errorf("%w: target missing", domain.ErrValidation)}
	eng := newTestEngine(t, testConfig(), func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	results := eng.emitter.snapshot()
	assert.Equal(t, domain.OutcomeFailure, results[0].Outcome)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, int64(0), h.calls.Load(), "validation failure short-circuits execution")
}

func TestManagerRetryThenSucceed(t *testing.T) {
	t.Parallel()

	// Fails transiently twice, succeeds on the third attempt.
	var attempts atomic.Int64
	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		if attempts.Add(1) <= 2 {
			return nil, fmt.Errorf("%w: connection reset", domain.ErrTransient)
		}
		return domain.SuccessResult(map[string]any{"ok": true}), nil
	}}

	cfg := testConfig()
	cfg.MaxRetries = 3
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 5*time.Second, 5*time.Millisecond)

	results := eng.emitter.snapshot()
	assert.Equal(t, domain.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, 3, results[0].Attempts, "retry_count must be 2 at success")
	assert.Equal(t, int64(3), attempts.Load())

	stats := eng.manager.Stats()
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(1), stats.Succeeded)
}

func TestManagerExhaustsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		return nil, fmt.Errorf("%w: permanent outage", domain.ErrTransient)
	}}

	cfg := testConfig()
	cfg.MaxRetries = 2
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 5*time.Second, 5*time.Millisecond)

	// Exactly max_retries + 1 total attempts, never fewer, never more.
	results := eng.emitter.snapshot()
	assert.Equal(t, domain.OutcomeFailure, results[0].Outcome)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Contains(t, results[0].Error, "permanent outage")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(3), h.calls.Load())
	assert.Equal(t, 0, eng.broker.Pending(), "exhausted tasks are acknowledged, never requeued")
	assert.Equal(t, int64(1), eng.manager.Stats().Exhausted)
}

func TestManagerInlineRetryPolicy(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		if attempts.Add(1) == 1 {
			return nil, fmt.Errorf("%w: blip", domain.ErrTransient)
		}
		return domain.SuccessResult(nil), nil
	}}

	cfg := testConfig()
	cfg.RetryPolicy = RetryPolicyInline
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, eng.emitter.snapshot()[0].Attempts)

	// Inline re-attempts never go back through the broker.
	assert.Equal(t, 0, eng.broker.Pending())
}

func TestManagerConcurrencyNeverExceedsSlots(t *testing.T) {
	t.Parallel()

	const concurrency = 5
	gate := make(chan struct{})
	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		select {
		case <-gate:
			return domain.SuccessResult(nil), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	cfg := testConfig()
	cfg.Concurrency = concurrency
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	// Six simultaneous arrivals against five slots.
	for i := 0; i < concurrency+1; i++ {
		enqueue(t, eng.broker, fmt.Sprintf("t%d", i), "scrape")
	}

	// All five slots fill; the sixth arrival waits for a free slot.
	assert.Eventually(t, func() bool { return h.running.Load() == concurrency },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(concurrency), h.running.Load())
	assert.Equal(t, int64(concurrency), h.peak.Load())

	close(gate)
	assert.Eventually(t, func() bool { return eng.emitter.count() == concurrency+1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(concurrency), h.peak.Load(),
		"running tasks must never exceed the configured concurrency")
}

func TestManagerConcurrencyBoundUnderRandomArrivals(t *testing.T) {
	t.Parallel()

	const concurrency = 3
	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		time.Sleep(time.Duration(len(task.ID)%4) * time.Millisecond)
		return domain.SuccessResult(nil), nil
	}}

	cfg := testConfig()
	cfg.Concurrency = concurrency
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	for i := 0; i < 40; i++ {
		enqueue(t, eng.broker, fmt.Sprintf("task-%d", i), "scrape")
		if i%7 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	assert.Eventually(t, func() bool { return eng.emitter.count() == 40 },
		10*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, h.peak.Load(), int64(concurrency))
}

func TestManagerTaskTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	cfg := testConfig()
	cfg.TaskTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 5*time.Second, 5*time.Millisecond)

	results := eng.emitter.snapshot()
	assert.Equal(t, domain.OutcomeFailure, results[0].Outcome)
	assert.Contains(t, results[0].Error, "deadline")
	assert.Equal(t, 2, results[0].Attempts, "timeout is retried like any transient failure")
}

func TestManagerGracefulShutdownWaitsForInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		select {
		case <-release:
			return domain.SuccessResult(nil), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	eng := newTestEngine(t, testConfig(), func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")
	assert.Eventually(t, func() bool { return h.running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Let the task finish just after shutdown begins.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	eng.manager.Stop()

	results := eng.emitter.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomeSuccess, results[0].Outcome)
}

func TestManagerForcedShutdownCancelsStragglers(t *testing.T) {
	t.Parallel()

	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		// Never finishes on its own; must be cancelled.
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	cfg := testConfig()
	cfg.ShutdownGrace = 30 * time.Millisecond
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")
	assert.Eventually(t, func() bool { return h.running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		eng.manager.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after grace deadline")
	}

	// The cancelled attempt is retryable, so the task went back to the
	// broker rather than being lost.
	assert.Eventually(t, func() bool { return eng.broker.Pending() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), eng.manager.Stats().InFlight)
}

func TestManagerFilteredResultCountsAsSuccess(t *testing.T) {
	t.Parallel()

	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		return domain.FilteredResult(), nil
	}}

	eng := newTestEngine(t, testConfig(), func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	results := eng.emitter.snapshot()
	assert.Equal(t, domain.OutcomeSuccess, results[0].Outcome)
	assert.True(t, results[0].Filtered)
	assert.Equal(t, int64(1), eng.manager.Stats().Filtered)
}

func TestManagerEmitsExactlyOneResultPerTask(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	h := &mockHandler{execFn: func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("session crashed")
		}
		return domain.SuccessResult(nil), nil
	}}

	cfg := testConfig()
	eng := newTestEngine(t, cfg, func(r *registry.Registry) {
		require.NoError(t, r.Register("scrape", h))
	})

	enqueue(t, eng.broker, "t1", "scrape")

	assert.Eventually(t, func() bool { return eng.emitter.count() == 1 }, 5*time.Second, 5*time.Millisecond)

	// Settle: retries must not have produced extra results.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, eng.emitter.count())
}
