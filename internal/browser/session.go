// Package browser manages a bounded pool of reusable headless-browser
// automation sessions. Session startup is expensive, so the pool amortizes
// it by reuse and only recycles sessions that are unhealthy or past their
// configured age or use limits.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Page is the result of a navigation: the fetched document plus the small
// set of attributes handlers extract features from.
type Page struct {
	URL   string
	Title string
	HTML  string
}

// Driver is the automation backend a session delegates to. Implementations
// must honor ctx cancellation at navigation boundaries.
type Driver interface {
	// Navigate loads url and returns the rendered page.
	Navigate(ctx context.Context, url string) (*Page, error)

	// Close tears down the backend. It must be safe to call once.
	Close(ctx context.Context) error

	// Alive reports whether the backend is still usable.
	Alive() bool
}

// Launcher creates new automation backends. Launch is assumed to be
// expensive (external process startup).
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// Session is one live automation context. A session is owned exclusively by
// a single task execution between Acquire and Release.
type Session struct {
	id        uuid.UUID
	driver    Driver
	createdAt time.Time

	mu       sync.Mutex
	uses     int
	released bool
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Age returns how long ago the session was created.
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// Uses returns how many times the session has been checked out.
func (s *Session) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}

// Alive reports whether the underlying automation backend is healthy.
func (s *Session) Alive() bool {
	return s.driver.Alive()
}

// Navigate loads url in this session.
func (s *Session) Navigate(ctx context.Context, url string) (*Page, error) {
	return s.driver.Navigate(ctx, url)
}

// checkout marks one more use. Called by the pool under its own discipline.
func (s *Session) checkout() {
	s.mu.Lock()
	s.uses++
	s.mu.Unlock()
}

// tryRelease flips the released flag, reporting false if the session was
// already released. This is the single guard against double-release.
func (s *Session) tryRelease() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	return true
}

// reacquire clears the released flag when the session is checked out again.
func (s *Session) reacquire() {
	s.mu.Lock()
	s.released = false
	s.mu.Unlock()
}
