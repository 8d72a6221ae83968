// Package clock provides the time source used by the session layer.
//
// Channels, connection managers and the facade never call time.Now directly;
// they read a TimeProvider so that timeouts, rate limiting and handshake
// retries can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// TimeProvider is an interface for getting the current time and creating tickers.
// This allows injecting a mock time provider for deterministic testing.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a new ticker that fires at the given interval.
	NewTicker(d time.Duration) *time.Ticker
}

// RealTimeProvider implements TimeProvider using the actual system time.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTicker creates a new ticker using the standard library.
func (RealTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// Or returns tp if non-nil, otherwise a RealTimeProvider.
func Or(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}

// Mock is a manually advanced TimeProvider.
// The tick-driven tests in this module use it to cross timeouts and rate
// limiter windows without sleeping.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock creates a Mock starting at start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now returns the mock time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTicker creates a real ticker; only Now is virtualized.
func (m *Mock) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// Set sets the mock time.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance advances the mock time by the specified duration.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
