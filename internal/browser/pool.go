package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// PoolConfig holds configuration for the session pool
type PoolConfig struct {
	// Capacity bounds the number of sessions that may exist at once,
	// counting sessions that are still starting.
	Capacity int

	// AcquireTimeout is how long Acquire waits for a free session before
	// failing with domain.ErrPoolExhausted.
	AcquireTimeout time.Duration

	// MaxSessionAge recycles sessions older than this on their next
	// release or acquire. Zero disables the age limit.
	MaxSessionAge time.Duration

	// MaxSessionUses recycles sessions after this many checkouts.
	// Zero disables the use limit.
	MaxSessionUses int

	// DestroyTimeout bounds how long a session teardown may take.
	DestroyTimeout time.Duration
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Capacity:       5,
		AcquireTimeout: 30 * time.Second,
		MaxSessionAge:  30 * time.Minute,
		MaxSessionUses: 50,
		DestroyTimeout: 10 * time.Second,
	}
}

// Pool is a capacity-bounded browser session pool. Sessions are reused
// across tasks and recycled lazily: an unhealthy or expired session is
// destroyed on release and its replacement is only launched when the next
// Acquire needs it.
type Pool struct {
	launcher Launcher
	config   PoolConfig
	logger   *slog.Logger

	// slots holds one token per existing session (idle, checked out, or
	// starting). Its capacity is the pool's live-session invariant.
	slots chan struct{}

	// idle holds healthy sessions awaiting reuse.
	idle chan *Session

	mu     sync.Mutex
	closed bool
}

// NewPool creates a session pool backed by the given launcher.
func NewPool(launcher Launcher, config PoolConfig, logger *slog.Logger) *Pool {
	if config.Capacity <= 0 {
		logger.Warn("invalid session pool capacity, using default",
			"specified_capacity", config.Capacity,
			"default_capacity", 1)
		config.Capacity = 1
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = DefaultPoolConfig().AcquireTimeout
	}
	if config.DestroyTimeout <= 0 {
		config.DestroyTimeout = DefaultPoolConfig().DestroyTimeout
	}

	return &Pool{
		launcher: launcher,
		config:   config,
		logger:   logger.With("component", "browser_pool"),
		slots:    make(chan struct{}, config.Capacity),
		idle:     make(chan *Session, config.Capacity),
	}
}

// Acquire checks out a session, reusing an idle one when possible and
// launching a new one while under capacity. It fails with
// domain.ErrPoolExhausted once AcquireTimeout elapses, or with ctx's error
// if the caller is cancelled first.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("session pool is closed")
	}

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	for {
		// Prefer reuse over launching.
		select {
		case s := <-p.idle:
			if !p.usable(s) {
				p.destroy(s)
				continue
			}
			s.reacquire()
			s.checkout()
			return s, nil
		default:
		}

		select {
		case s := <-p.idle:
			if !p.usable(s) {
				p.destroy(s)
				continue
			}
			s.reacquire()
			s.checkout()
			return s, nil

		case p.slots <- struct{}{}:
			s, err := p.launch(ctx)
			if err != nil {
				<-p.slots
				return nil, fmt.Errorf("%w: session launch failed: %v", domain.ErrTransient, err)
			}
			s.checkout()
			return s, nil

		case <-timer.C:
			return nil, fmt.Errorf("%w: no session available within %v",
				domain.ErrPoolExhausted, p.config.AcquireTimeout)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a session to the pool. An unhealthy or expired session is
// destroyed instead of reused; its replacement is launched lazily by a later
// Acquire. Releasing the same checkout twice is a no-op.
func (p *Pool) Release(s *Session, healthy bool) {
	if s == nil {
		return
	}
	if !s.tryRelease() {
		p.logger.Warn("session released twice, ignoring", "session_id", s.ID())
		return
	}

	if !healthy || !s.Alive() || p.expired(s) || p.isClosed() {
		p.destroy(s)
		return
	}

	select {
	case p.idle <- s:
	default:
		// Cannot happen while the idle buffer matches capacity, but a
		// session must never be stranded holding a slot.
		p.destroy(s)
	}
}

// Live returns the number of sessions currently existing, including ones
// still starting.
func (p *Pool) Live() int {
	return len(p.slots)
}

// Idle returns the number of sessions parked for reuse.
func (p *Pool) Idle() int {
	return len(p.idle)
}

// Close destroys all idle sessions and marks the pool closed. Sessions
// checked out at the time of the call are destroyed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case s := <-p.idle:
			p.destroy(s)
		default:
			p.logger.Info("session pool closed", "live", p.Live())
			return
		}
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// usable reports whether an idle session can be handed out again.
func (p *Pool) usable(s *Session) bool {
	return s.Alive() && !p.expired(s) && !p.isClosed()
}

// expired reports whether a session passed its age or use limit.
func (p *Pool) expired(s *Session) bool {
	if p.config.MaxSessionAge > 0 && s.Age() > p.config.MaxSessionAge {
		return true
	}
	if p.config.MaxSessionUses > 0 && s.Uses() >= p.config.MaxSessionUses {
		return true
	}
	return false
}

// launch starts a new session. The caller must already hold a slot token.
func (p *Pool) launch(ctx context.Context) (*Session, error) {
	driver, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        uuid.New(),
		driver:    driver,
		createdAt: time.Now(),
	}
	p.logger.Debug("session launched", "session_id", s.ID(), "live", p.Live())
	return s, nil
}

// destroy tears down a session and frees its slot token.
func (p *Pool) destroy(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.DestroyTimeout)
	defer cancel()

	if err := s.driver.Close(ctx); err != nil {
		p.logger.Warn("session teardown failed", "session_id", s.ID(), "error", err)
	}
	<-p.slots
	p.logger.Debug("session destroyed",
		"session_id", s.ID(),
		"age", s.Age(),
		"uses", s.Uses(),
		"live", p.Live())
}
