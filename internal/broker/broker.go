// Package broker defines the client-side contract the worker engine
// requires from its task broker, plus the Redis-backed implementation used
// in production. Delivery is at-least-once: a delivered task stays parked
// in an in-flight set until it is acked or nacked, and deliveries whose
// visibility window lapses are reclaimed onto the ready queue.
package broker

import (
	"context"
	"time"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// Broker is the task source and sink the worker engine pulls from.
type Broker interface {
	// Poll fetches the next task, blocking at most briefly. It returns
	// (nil, nil) when no task is available.
	Poll(ctx context.Context) (*domain.Task, error)

	// Ack acknowledges a delivered task, removing it from the queue for
	// good. The task's DeliveryToken identifies the delivery.
	Ack(ctx context.Context, task *domain.Task) error

	// Nack returns a delivered task to the queue for another delivery
	// after requeueDelay. The task's mutated fields (retry count) are
	// preserved.
	Nack(ctx context.Context, task *domain.Task, requeueDelay time.Duration) error
}

// Enqueuer is the producer side of the queue. The worker engine itself only
// enqueues in tests and tooling; the web-facing API is the real producer.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *domain.Task) error
}

// Reclaimer is implemented by brokers that can sweep deliveries whose
// visibility window expired back onto the ready queue.
type Reclaimer interface {
	// ReclaimExpired requeues lapsed deliveries and reports how many.
	ReclaimExpired(ctx context.Context) (int, error)
}
