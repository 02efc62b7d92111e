// Package pool implements the Connection Pool (spec component C11):
// a bounded set of pooled connections with idle/active/cooling/closed
// lifecycle states, configurable allocation strategy, and
// condition-variable-based acquire/release.
//
// Grounded on other_examples' oriys-nova pool.go: one mutex bound to
// a sync.Cond for acquire-wait/release-wake. All bookkeeping is under
// that mutex, and idle or over-used connections are closed in Release;
// there is no background cleanup loop.
// Strategy selection and the idle/cooling/active/closed/error state
// machine are this package's own addition, since the teacher pack has
// no VM/connection pool with that exact lifecycle to generalize from.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/libpolycall/polycall-go/internal/observability"
	"github.com/libpolycall/polycall-go/internal/perr"
)

// State is a pooled connection's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCooling
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCooling:
		return "cooling"
	case StateClosed:
		return "closed"
	default:
		return "error"
	}
}

// Strategy selects which idle connection acquire() hands out next.
type Strategy int

const (
	FIFO Strategy = iota
	LIFO
	LRU
	RoundRobin
)

// Conn is the capability surface a pooled resource must implement.
// For LibPolyCall a Conn is typically a *grpc.ClientConn wrapper to a
// remote bridge process; the pool itself is transport-agnostic.
type Conn interface {
	Close() error
}

// Pinger is an optional capability a Conn may implement to give
// validate() a real liveness check instead of the staleness fallback.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory creates a new Conn.
type Factory func(ctx context.Context) (Conn, error)

// entry wraps one pooled connection with its lifecycle bookkeeping.
type entry struct {
	conn           Conn
	state          State
	createdAt      time.Time
	lastUsedAt     time.Time
	lastValidated  time.Time
	requestsServed int
	elem           *list.Element // position in the idle/cooling recency list
}

// Config configures a Pool.
type Config struct {
	// Name identifies this pool in the polycall_pool_connections gauge
	// (e.g. the remote language it bridges to). Left empty, utilization
	// is not reported.
	Name               string
	Initial            int
	Min                int
	Max                int
	Strategy           Strategy
	IdleTimeout        time.Duration
	MaxRequestsPerConn int
	Cooldown           time.Duration
	ScalingThreshold   float64 // utilization below threshold/2 triggers scale-down
	ValidateOnReturn   bool
}

// Pool is a bounded set of pooled connections guarded by one mutex
// with a condition variable for acquire-wait.
type Pool struct {
	cfg     Config
	factory Factory

	mu         sync.Mutex
	cond       *sync.Cond
	entries    map[*entry]struct{}
	idle       *list.List // front = next to hand out for both LIFO and FIFO
	roundRobin int
	closed     bool
}

// New creates a Pool and eagerly fills it to cfg.Initial connections.
// A factory error during initial fill is returned; the pool is usable
// with fewer than Initial connections if the caller ignores it, but
// by convention callers should treat it as fatal at startup.
func New(ctx context.Context, cfg Config, factory Factory) (*Pool, error) {
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	if cfg.Min > cfg.Max {
		cfg.Min = cfg.Max
	}
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		entries: make(map[*entry]struct{}),
		idle:    list.New(),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.Initial; i++ {
		e, err := p.createLocked(ctx)
		if err != nil {
			p.reportStats()
			return p, err
		}
		p.mu.Lock()
		p.entries[e] = struct{}{}
		p.pushIdleLocked(e)
		p.mu.Unlock()
	}
	p.reportStats()
	return p, nil
}

// reportStats publishes the current connection count in each
// lifecycle state to the polycall_pool_connections gauge, a no-op for
// an unnamed pool.
func (p *Pool) reportStats() {
	if p.cfg.Name == "" {
		return
	}
	counts := p.Stats()
	for _, s := range []State{StateIdle, StateActive, StateCooling, StateClosed, StateError} {
		observability.SetPoolGauge(p.cfg.Name, s.String(), float64(counts[s]))
	}
}

// Acquire returns an active connection, creating one if the pool is
// below Max, or waiting up to timeout for one to free up. Returns
// TIMEOUT on expiry, MEMORY_ALLOCATION on connection-creation failure.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (Conn, error) {
	deadline := time.Now().Add(timeout)
	defer p.reportStats()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, perr.New(perr.NotInitialized, "pool is closed")
		}

		if e := p.takeIdleLocked(); e != nil {
			e.state = StateActive
			e.lastUsedAt = time.Now()
			p.mu.Unlock()
			return e.conn, nil
		}
		if e := p.recycleCoolingLocked(); e != nil {
			e.state = StateActive
			e.lastUsedAt = time.Now()
			p.mu.Unlock()
			return e.conn, nil
		}
		if len(p.entries) < p.cfg.Max {
			p.mu.Unlock()
			e, err := p.createLocked(ctx)
			if err != nil {
				return nil, perr.Wrap(perr.MemoryAllocation, "failed to create pooled connection", err)
			}
			p.mu.Lock()
			p.entries[e] = struct{}{}
			e.state = StateActive
			e.lastUsedAt = time.Now()
			p.mu.Unlock()
			return e.conn, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, perr.New(perr.Timeout, "timed out waiting for a pooled connection")
		}
		waitWithDeadline(p.cond, remaining)
	}
}

// Release returns conn to the pool. forceClose, a connection that has
// served MaxRequestsPerConn requests, or one idle since IdleTimeout
// are all torn down (spec 4.11's should_close rule), and a new idle
// connection is created only if the pool has fallen below Min;
// otherwise it transitions to cooling (if Cooldown > 0) or idle.
func (p *Pool) Release(ctx context.Context, conn Conn, forceClose bool) error {
	defer p.reportStats()
	p.mu.Lock()
	e := p.findLocked(conn)
	if e == nil {
		p.mu.Unlock()
		return perr.New(perr.InvalidArgument, "release of a connection not owned by this pool")
	}
	e.requestsServed++

	shouldClose := forceClose ||
		(p.cfg.MaxRequestsPerConn > 0 && e.requestsServed >= p.cfg.MaxRequestsPerConn) ||
		(p.cfg.IdleTimeout > 0 && time.Since(e.lastUsedAt) >= p.cfg.IdleTimeout)

	if p.cfg.ValidateOnReturn && !shouldClose {
		p.mu.Unlock()
		if err := p.validateOne(ctx, e); err != nil {
			shouldClose = true
		}
		p.mu.Lock()
	}

	if shouldClose {
		delete(p.entries, e)
		p.mu.Unlock()
		_ = e.conn.Close()
		if len(p.poolSnapshot()) < p.cfg.Min {
			if ne, err := p.createLocked(ctx); err == nil {
				p.mu.Lock()
				p.entries[ne] = struct{}{}
				p.pushIdleLocked(ne)
				p.mu.Unlock()
			}
		}
		p.cond.Broadcast()
		return nil
	}

	if p.cfg.Cooldown > 0 {
		e.state = StateCooling
		e.lastUsedAt = time.Now()
	} else {
		e.state = StateIdle
		p.pushIdleLocked(e)
	}
	p.maybeScaleDownLocked()
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// Validate runs a liveness check against every non-active connection,
// optionally closing and dropping ones that fail.
func (p *Pool) Validate(ctx context.Context, closeInvalid bool) error {
	defer p.reportStats()
	for _, e := range p.nonActiveSnapshot() {
		if err := p.validateOne(ctx, e); err != nil {
			e.state = StateError
			if closeInvalid {
				p.mu.Lock()
				delete(p.entries, e)
				if e.elem != nil {
					p.idle.Remove(e.elem)
					e.elem = nil
				}
				p.mu.Unlock()
				_ = e.conn.Close()
			}
		}
	}
	return nil
}

// Close tears down every connection and marks the pool closed.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	entries := make([]*entry, 0, len(p.entries))
	for e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[*entry]struct{})
	p.idle.Init()
	p.mu.Unlock()
	p.cond.Broadcast()
	p.reportStats()

	for _, e := range entries {
		_ = e.conn.Close()
	}
	return nil
}

// Stats reports the connection count in each lifecycle state.
func (p *Pool) Stats() map[State]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[State]int{}
	for e := range p.entries {
		out[e.state]++
	}
	return out
}

func (p *Pool) validateOne(ctx context.Context, e *entry) error {
	pinger, ok := e.conn.(Pinger)
	if !ok {
		// No liveness hook available; fall back to staleness: a
		// connection idle past twice the idle timeout is presumed
		// dead (spec 9's acknowledged open question on this stub).
		if p.cfg.IdleTimeout > 0 && time.Since(e.lastUsedAt) > 2*p.cfg.IdleTimeout {
			return perr.New(perr.BridgeFailure, "connection presumed stale")
		}
		return nil
	}
	err := backoff.Retry(func() error {
		return pinger.Ping(ctx)
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2))
	if err == nil {
		p.mu.Lock()
		e.lastValidated = time.Now()
		p.mu.Unlock()
	}
	return err
}

func (p *Pool) createLocked(ctx context.Context) (*entry, error) {
	conn, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &entry{conn: conn, state: StateIdle, createdAt: now, lastUsedAt: now}, nil
}

func (p *Pool) pushIdleLocked(e *entry) {
	e.state = StateIdle
	switch p.cfg.Strategy {
	case LIFO:
		e.elem = p.idle.PushFront(e)
	default:
		e.elem = p.idle.PushBack(e)
	}
}

func (p *Pool) takeIdleLocked() *entry {
	if p.idle.Len() == 0 {
		return nil
	}
	var elem *list.Element
	switch p.cfg.Strategy {
	case LIFO:
		elem = p.idle.Front()
	case LRU:
		elem = p.oldestByLastUsedLocked()
	case RoundRobin:
		elem = p.roundRobinLocked()
	default: // FIFO
		elem = p.idle.Front()
	}
	if elem == nil {
		return nil
	}
	e := p.idle.Remove(elem).(*entry)
	e.elem = nil
	return e
}

func (p *Pool) oldestByLastUsedLocked() *list.Element {
	var oldest *list.Element
	for el := p.idle.Front(); el != nil; el = el.Next() {
		if oldest == nil || el.Value.(*entry).lastUsedAt.Before(oldest.Value.(*entry).lastUsedAt) {
			oldest = el
		}
	}
	return oldest
}

func (p *Pool) roundRobinLocked() *list.Element {
	n := p.idle.Len()
	if n == 0 {
		return nil
	}
	idx := p.roundRobin % n
	p.roundRobin++
	el := p.idle.Front()
	for i := 0; i < idx; i++ {
		el = el.Next()
	}
	return el
}

func (p *Pool) recycleCoolingLocked() *entry {
	for e := range p.entries {
		if e.state == StateCooling && time.Since(e.lastUsedAt) >= p.cfg.Cooldown {
			return e
		}
	}
	return nil
}

func (p *Pool) findLocked(conn Conn) *entry {
	for e := range p.entries {
		if e.conn == conn {
			return e
		}
	}
	return nil
}

func (p *Pool) poolSnapshot() []*entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entry, 0, len(p.entries))
	for e := range p.entries {
		out = append(out, e)
	}
	return out
}

func (p *Pool) nonActiveSnapshot() []*entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entry, 0, len(p.entries))
	for e := range p.entries {
		if e.state != StateActive {
			out = append(out, e)
		}
	}
	return out
}

// maybeScaleDownLocked closes one idle/cooling entry when utilization
// drops below half the configured scaling threshold and the pool is
// above its configured minimum (spec 4.11's auto-scale rule). Caller
// must hold p.mu.
func (p *Pool) maybeScaleDownLocked() {
	if p.cfg.ScalingThreshold <= 0 || len(p.entries) <= p.cfg.Min {
		return
	}
	active := 0
	for e := range p.entries {
		if e.state == StateActive {
			active++
		}
	}
	utilization := float64(active) / float64(len(p.entries))
	if utilization >= p.cfg.ScalingThreshold/2 {
		return
	}
	for e := range p.entries {
		if e.state == StateIdle || e.state == StateCooling {
			if e.elem != nil {
				p.idle.Remove(e.elem)
			}
			delete(p.entries, e)
			go e.conn.Close()
			return
		}
	}
}

// waitWithDeadline blocks on cond until woken, or until remaining has
// elapsed, whichever comes first. sync.Cond has no native timeout, so
// a timer goroutine forces a wake-up by broadcasting when the deadline
// passes; the caller re-checks its own condition after returning.
func waitWithDeadline(cond *sync.Cond, remaining time.Duration) {
	timer := time.AfterFunc(remaining, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
