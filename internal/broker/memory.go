package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// MemoryBroker is an in-process Broker used by tests and the local run
// mode. It mirrors the Redis broker's semantics: at-least-once delivery,
// delivery tokens, and delayed requeue.
type MemoryBroker struct {
	mu       sync.Mutex
	ready    []*domain.Task
	inflight map[string]*domain.Task
	closed   bool
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		inflight: make(map[string]*domain.Task),
	}
}

// Enqueue appends a task to the ready queue.
func (b *MemoryBroker) Enqueue(ctx context.Context, task *domain.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker is closed")
	}

	// Copy so later mutations by the worker do not alias the queue.
	t := *task
	b.ready = append(b.ready, &t)
	return nil
}

// Poll pops the oldest ready task, or returns (nil, nil) when idle.
func (b *MemoryBroker) Poll(ctx context.Context) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ready) == 0 {
		return nil, nil
	}

	task := b.ready[0]
	b.ready = b.ready[1:]

	token := uuid.NewString()
	task.DeliveryToken = token
	b.inflight[token] = task

	delivered := *task
	return &delivered, nil
}

// Ack removes the delivery for good.
func (b *MemoryBroker) Ack(ctx context.Context, task *domain.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inflight[task.DeliveryToken]; !ok {
		return fmt.Errorf("unknown delivery token for task %s", task.ID)
	}
	delete(b.inflight, task.DeliveryToken)
	return nil
}

// Nack requeues the delivery after requeueDelay.
func (b *MemoryBroker) Nack(ctx context.Context, task *domain.Task, requeueDelay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inflight[task.DeliveryToken]; !ok {
		return fmt.Errorf("unknown delivery token for task %s", task.ID)
	}
	delete(b.inflight, task.DeliveryToken)

	requeued := *task
	requeued.DeliveryToken = ""

	if requeueDelay <= 0 {
		b.ready = append(b.ready, &requeued)
		return nil
	}

	time.AfterFunc(requeueDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		b.ready = append(b.ready, &requeued)
	})
	return nil
}

// Pending returns the number of tasks waiting for delivery.
func (b *MemoryBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready)
}

// Inflight returns the number of unacknowledged deliveries.
func (b *MemoryBroker) Inflight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inflight)
}

// Close stops the broker; delayed requeues scheduled before Close are
// dropped when they fire.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
