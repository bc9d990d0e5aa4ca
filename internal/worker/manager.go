// Package worker implements the bounded-concurrency task execution engine.
// A Manager pulls tasks from the broker, admits at most N concurrent
// executions through a fixed set of worker slots, dispatches each task to
// its registered handler, and enforces the acknowledgement and retry
// policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pagehaul/pagehaul/internal/broker"
	"github.com/pagehaul/pagehaul/internal/domain"
	"github.com/pagehaul/pagehaul/internal/events"
	"github.com/pagehaul/pagehaul/internal/registry"
)

// RetryPolicy selects how a retryable failure is re-attempted.
type RetryPolicy string

const (
	// RetryPolicyRequeue hands the task back to the broker with a backoff
	// delay. Survives process restarts; the default.
	RetryPolicyRequeue RetryPolicy = "requeue"

	// RetryPolicyInline re-attempts in process on the same worker slot
	// after an in-memory backoff.
	RetryPolicyInline RetryPolicy = "inline"
)

// Config holds configuration for the worker pool manager
type Config struct {
	// Concurrency is the number of worker slots: the maximum number of
	// tasks that may run handler code simultaneously.
	Concurrency int

	// MaxRetries bounds re-attempts after the first failure. A task that
	// fails with retry_count == MaxRetries transitions to exhausted.
	MaxRetries int

	// TaskTimeout is the per-task execution deadline.
	TaskTimeout time.Duration

	// ShutdownGrace is how long Stop waits for in-flight tasks before
	// force-cancelling them.
	ShutdownGrace time.Duration

	// PollInterval paces the fetch loop when the broker is idle or
	// failing.
	PollInterval time.Duration

	// RetryBackoffBase seeds the exponential backoff between attempts.
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the backoff.
	RetryBackoffMax time.Duration

	// RetryPolicy selects requeue-with-delay or inline re-attempt.
	RetryPolicy RetryPolicy

	// ReclaimInterval is how often expired broker deliveries are swept
	// back onto the queue. Zero disables the sweep.
	ReclaimInterval time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:      5,
		MaxRetries:       3,
		TaskTimeout:      2 * time.Minute,
		ShutdownGrace:    30 * time.Second,
		PollInterval:     time.Second,
		RetryBackoffBase: 2 * time.Second,
		RetryBackoffMax:  5 * time.Minute,
		RetryPolicy:      RetryPolicyRequeue,
		ReclaimInterval:  time.Minute,
	}
}

// Manager is the worker pool orchestrator.
type Manager struct {
	broker   broker.Broker
	registry *registry.Registry
	deps     registry.Deps
	emitter  events.ResultEmitter
	config   Config
	logger   *slog.Logger

	// slots is the admission gate: one token per in-flight execution.
	slots chan struct{}

	// pollCtx governs the fetch loop; cancelled first on shutdown.
	pollCtx    context.Context
	pollCancel context.CancelFunc

	// execCtx governs handler executions; cancelled when the grace
	// deadline lapses.
	execCtx    context.Context
	execCancel context.CancelFunc

	wg       sync.WaitGroup // in-flight executions
	loopWg   sync.WaitGroup // fetch and reclaim loops
	stopOnce sync.Once

	stats stats
}

// New creates a Manager. The registry, broker, and emitter must be fully
// populated before Start; registration is not re-entrant at runtime.
func New(
	b broker.Broker,
	reg *registry.Registry,
	deps registry.Deps,
	emitter events.ResultEmitter,
	config Config,
	logger *slog.Logger,
) *Manager {
	if config.Concurrency <= 0 {
		logger.Warn("invalid worker concurrency, using default",
			"specified_concurrency", config.Concurrency,
			"default_concurrency", DefaultConfig().Concurrency)
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = DefaultConfig().RetryBackoffBase
	}
	if config.RetryPolicy == "" {
		config.RetryPolicy = RetryPolicyRequeue
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	return &Manager{
		broker:     b,
		registry:   reg,
		deps:       deps,
		emitter:    emitter,
		config:     config,
		logger:     logger.With("component", "worker_pool"),
		slots:      make(chan struct{}, config.Concurrency),
		pollCtx:    pollCtx,
		pollCancel: pollCancel,
		execCtx:    execCtx,
		execCancel: execCancel,
	}
}

// Start begins pulling tasks. It returns immediately; the engine runs until
// Stop.
func (m *Manager) Start() {
	m.logger.Info("worker pool starting",
		"concurrency", m.config.Concurrency,
		"max_retries", m.config.MaxRetries,
		"retry_policy", m.config.RetryPolicy,
		"task_types", m.registry.Types())

	m.loopWg.Add(1)
	go m.fetchLoop()

	if r, ok := m.broker.(broker.Reclaimer); ok && m.config.ReclaimInterval > 0 {
		m.loopWg.Add(1)
		go m.reclaimLoop(r)
	}
}

// Stop shuts the engine down: it stops pulling new tasks, waits up to the
// grace deadline for in-flight tasks to reach a terminal state, then
// force-cancels the stragglers and waits for their slots and sessions to be
// released.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("worker pool shutting down", "in_flight", m.stats.inFlight.Load())
		m.pollCancel()
		m.loopWg.Wait()

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(m.config.ShutdownGrace):
			m.logger.Warn("shutdown grace deadline exceeded, cancelling in-flight tasks",
				"in_flight", m.stats.inFlight.Load())
			m.execCancel()
			<-done
		}
		m.execCancel()
		m.logger.Info("worker pool stopped")
	})
}

// fetchLoop pulls tasks continuously. It suspends while waiting for a free
// worker slot or for the broker to deliver work, and resumes fetching the
// moment an execution is launched so the pool keeps all slots busy whenever
// backlog exists.
func (m *Manager) fetchLoop() {
	defer m.loopWg.Done()

	for {
		task, err := m.broker.Poll(m.pollCtx)
		if err != nil {
			if m.pollCtx.Err() != nil {
				return
			}
			m.logger.Error("broker poll failed", "error", err)
			if !m.sleepPoll() {
				return
			}
			continue
		}
		if task == nil {
			if m.pollCtx.Err() != nil {
				return
			}
			if !m.sleepPoll() {
				return
			}
			continue
		}

		select {
		case m.slots <- struct{}{}:
		case <-m.pollCtx.Done():
			// Shutting down with a delivery in hand: give it back.
			m.nackOrLog(task, 0)
			return
		}

		m.stats.received.Add(1)
		m.stats.inFlight.Add(1)
		m.wg.Add(1)
		go m.run(task)
	}
}

// sleepPoll pauses the fetch loop for one poll interval, reporting false
// when shutdown interrupts the pause.
func (m *Manager) sleepPoll() bool {
	select {
	case <-time.After(m.config.PollInterval):
		return true
	case <-m.pollCtx.Done():
		return false
	}
}

// reclaimLoop periodically sweeps expired deliveries back onto the queue so
// tasks lost to a crashed worker get redelivered.
func (m *Manager) reclaimLoop(r broker.Reclaimer) {
	defer m.loopWg.Done()

	ticker := time.NewTicker(m.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.pollCtx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReclaimExpired(m.pollCtx); err != nil && m.pollCtx.Err() == nil {
				m.logger.Error("failed to reclaim expired deliveries", "error", err)
			}
		}
	}
}

// run drives one delivered task to a terminal state or back to the broker.
// It owns the task's worker slot and releases it unconditionally when the
// execution concludes.
func (m *Manager) run(task *domain.Task) {
	defer m.wg.Done()
	defer m.stats.inFlight.Add(-1)
	defer func() { <-m.slots }()

	for {
		result, execErr := m.executeOnce(task)
		if execErr == nil {
			m.succeed(task, result)
			return
		}

		if !domain.Retryable(execErr) {
			m.failTerminal(task, execErr, domain.TaskStatusFailed)
			return
		}

		if task.RetryCount >= m.config.MaxRetries {
			m.stats.exhausted.Add(1)
			m.failTerminal(task, execErr, domain.TaskStatusExhausted)
			return
		}

		task.RetryCount++
		task.Status = domain.TaskStatusFailed
		m.stats.retried.Add(1)
		backoff := m.backoff(task.RetryCount)

		m.logger.Info("task failed, will retry",
			"task_id", task.ID,
			"task_type", task.Type,
			"retry_count", task.RetryCount,
			"backoff", backoff,
			"error", execErr)

		if m.config.RetryPolicy == RetryPolicyInline {
			select {
			case <-time.After(backoff):
				continue
			case <-m.execCtx.Done():
				// Shutting down mid-backoff: hand the attempt back.
				m.nackOrLog(task, 0)
				return
			}
		}

		m.nackOrLog(task, backoff)
		return
	}
}

// executeOnce performs a single attempt: resolve, validate, execute under
// the per-task deadline.
func (m *Manager) executeOnce(task *domain.Task) (*domain.TaskResult, error) {
	task.Status = domain.TaskStatusRunning

	handler, err := m.registry.Resolve(task.Type)
	if err != nil {
		// Poison message: unrecognized types are not retryable.
		return nil, err
	}

	if err := handler.Validate(task.Args); err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			err = fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(m.execCtx, m.config.TaskTimeout)
	defer cancel()

	result, err := handler.Execute(ctx, task, m.deps)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: execution exceeded %v deadline",
				domain.ErrTransient, m.config.TaskTimeout)
		}
		return nil, err
	}
	if result == nil {
		result = domain.SuccessResult(nil)
	}
	return result, nil
}

// succeed acknowledges the task and emits its success result.
func (m *Manager) succeed(task *domain.Task, result *domain.TaskResult) {
	task.Status = domain.TaskStatusSucceeded
	m.stats.succeeded.Add(1)
	if result.Filtered {
		m.stats.filtered.Add(1)
	}

	m.finishResult(task, result)
	m.ackOrLog(task)
	m.emitResult(result)
}

// failTerminal acknowledges a task that can never succeed (poison message,
// validation failure, or exhausted retries) and emits its failure result.
func (m *Manager) failTerminal(task *domain.Task, execErr error, status domain.TaskStatus) {
	task.Status = status
	m.stats.failed.Add(1)

	result := &domain.TaskResult{
		Outcome: domain.OutcomeFailure,
		Error:   execErr.Error(),
	}
	m.finishResult(task, result)

	m.logger.Error("task reached terminal failure",
		"task_id", task.ID,
		"task_type", task.Type,
		"status", status,
		"attempts", result.Attempts,
		"error", execErr)

	m.ackOrLog(task)
	m.emitResult(result)
}

// finishResult stamps the engine-owned result fields.
func (m *Manager) finishResult(task *domain.Task, result *domain.TaskResult) {
	result.TaskID = task.ID
	result.TaskType = task.Type
	result.Attempts = task.RetryCount + 1
	result.CompletedAt = time.Now().UTC()
}

func (m *Manager) ackOrLog(task *domain.Task) {
	// Ack failures are logged, not retried: at-least-once delivery means
	// the worst case is a redundant redelivery of a terminal task.
	if err := m.broker.Ack(context.Background(), task); err != nil {
		m.logger.Error("failed to ack task", "task_id", task.ID, "error", err)
	}
}

func (m *Manager) nackOrLog(task *domain.Task, delay time.Duration) {
	if err := m.broker.Nack(context.Background(), task, delay); err != nil {
		m.logger.Error("failed to nack task", "task_id", task.ID, "error", err)
	}
}

func (m *Manager) emitResult(result *domain.TaskResult) {
	if err := m.emitter.EmitResult(context.Background(), result); err != nil {
		m.logger.Error("failed to emit task result",
			"task_id", result.TaskID,
			"error", err)
	}
}

// backoff computes the delay before the given attempt number, doubling from
// the base and capped at the configured maximum.
func (m *Manager) backoff(retryCount int) time.Duration {
	d := m.config.RetryBackoffBase << uint(retryCount-1)
	if d <= 0 {
		// Shift overflow on an absurd retry count.
		return m.config.RetryBackoffMax
	}
	if m.config.RetryBackoffMax > 0 && d > m.config.RetryBackoffMax {
		return m.config.RetryBackoffMax
	}
	return d
}
