package worker

import "sync/atomic"

// stats tracks engine counters with atomics; read-mostly consumers take a
// Snapshot.
type stats struct {
	received  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	filtered  atomic.Int64
	exhausted atomic.Int64
	inFlight  atomic.Int64
}

// Snapshot is a point-in-time view of the engine's counters.
type Snapshot struct {
	Received  int64 `json:"received"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Filtered  int64 `json:"filtered"`
	Exhausted int64 `json:"exhausted"`
	InFlight  int64 `json:"in_flight"`
	Slots     int   `json:"slots"`
}

// Stats returns a snapshot of the engine's counters.
func (m *Manager) Stats() Snapshot {
	return Snapshot{
		Received:  m.stats.received.Load(),
		Succeeded: m.stats.succeeded.Load(),
		Failed:    m.stats.failed.Load(),
		Retried:   m.stats.retried.Load(),
		Filtered:  m.stats.filtered.Load(),
		Exhausted: m.stats.exhausted.Load(),
		InFlight:  m.stats.inFlight.Load(),
		Slots:     m.config.Concurrency,
	}
}
