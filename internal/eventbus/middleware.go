package eventbus

import (
	"context"
	"sync"
	"time"
)

// LoggingMiddleware logs every publish's start and outcome.
// Grounded on commbus/middleware.go's LoggingMiddleware.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware builds a LoggingMiddleware writing through logger.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Before(ctx context.Context, ev Event) (Event, bool) {
	m.logger.Debug("event_published", "event_type", EventType(ev))
	return ev, true
}

func (m *LoggingMiddleware) After(ctx context.Context, ev Event, failures int) {
	if failures > 0 {
		m.logger.Warn("event_subscribers_failed", "event_type", EventType(ev), "failures", failures)
	}
}

// breakerState is one bridge language's circuit state.
type breakerState struct {
	failures    int
	lastFailure time.Time
	open        bool
	halfOpen    bool
}

// CircuitBreakerMiddleware stops publishing CallFailed-shaped events
// for a bridge language that is failing repeatedly, so a flapping
// bridge doesn't flood every subscriber with the same failure.
// Grounded on commbus/middleware.go's CircuitBreakerMiddleware,
// narrowed from "any message type" to CallFailed: every other event
// passes through untouched.
type CircuitBreakerMiddleware struct {
	threshold    int
	resetTimeout time.Duration

	mu     sync.Mutex
	states map[string]*breakerState
}

// NewCircuitBreakerMiddleware opens the circuit for a bridge language
// after threshold CallFailed publishes for that language, and allows
// one trial publish through again after resetTimeout. The failure
// count is not cleared by other events; Reset clears it.
func NewCircuitBreakerMiddleware(threshold int, resetTimeout time.Duration) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		states:       make(map[string]*breakerState),
	}
}

func (m *CircuitBreakerMiddleware) stateFor(key string) *breakerState {
	s, ok := m.states[key]
	if !ok {
		s = &breakerState{}
		m.states[key] = s
	}
	return s
}

func (m *CircuitBreakerMiddleware) Before(ctx context.Context, ev Event) (Event, bool) {
	failed, ok := ev.(CallFailed)
	if !ok {
		return ev, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateFor(failed.Language)
	if !s.open {
		return ev, true
	}
	if time.Since(s.lastFailure) >= m.resetTimeout {
		s.halfOpen = true
		return ev, true
	}
	return nil, false
}

func (m *CircuitBreakerMiddleware) After(ctx context.Context, ev Event, failures int) {
	failed, ok := ev.(CallFailed)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateFor(failed.Language)
	s.failures++
	s.lastFailure = time.Now()
	if m.threshold > 0 && s.failures >= m.threshold {
		s.open = true
	}
	s.halfOpen = false
}

// Reset clears a language's circuit state, e.g. after the bridge is
// re-registered.
func (m *CircuitBreakerMiddleware) Reset(language string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, language)
}
