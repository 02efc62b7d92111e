package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
	pingOK bool
}

func (c *fakeConn) Close() error { c.closed.Store(true); return nil }

func (c *fakeConn) Ping(ctx context.Context) error {
	if c.pingOK {
		return nil
	}
	return assert.AnError
}

func newFactory() (Factory, *atomic.Int32) {
	var counter atomic.Int32
	f := func(ctx context.Context) (Conn, error) {
		id := int(counter.Add(1))
		return &fakeConn{id: id, pingOK: true}, nil
	}
	return f, &counter
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	factory, _ := newFactory()
	p, err := New(context.Background(), Config{Initial: 1, Min: 1, Max: 2, Strategy: FIFO}, factory)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, conn)

	require.NoError(t, p.Release(context.Background(), conn, false))
	stats := p.Stats()
	assert.Equal(t, 1, stats[StateIdle])
}

func TestAcquireCreatesUpToMax(t *testing.T) {
	factory, counter := newFactory()
	p, err := New(context.Background(), Config{Initial: 0, Min: 0, Max: 2, Strategy: FIFO}, factory)
	require.NoError(t, err)

	c1, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
	assert.Equal(t, int32(2), counter.Load())
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	factory, _ := newFactory()
	p, err := New(context.Background(), Config{Initial: 1, Min: 0, Max: 1, Strategy: FIFO}, factory)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestReleaseForceCloseReplacesConnection(t *testing.T) {
	factory, counter := newFactory()
	p, err := New(context.Background(), Config{Initial: 1, Min: 1, Max: 1, Strategy: FIFO}, factory)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	require.NoError(t, p.Release(context.Background(), conn, true))
	assert.True(t, conn.(*fakeConn).closed.Load())
	assert.Equal(t, int32(2), counter.Load()) // original + replacement
}

func TestReleaseClosesWhenMaxRequestsExceeded(t *testing.T) {
	factory, _ := newFactory()
	p, err := New(context.Background(), Config{Initial: 1, Min: 0, Max: 1, Strategy: FIFO, MaxRequestsPerConn: 1}, factory)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Release(context.Background(), conn, false))
	assert.True(t, conn.(*fakeConn).closed.Load())
}

func TestReleaseTransitionsToCoolingThenRecyclable(t *testing.T) {
	factory, _ := newFactory()
	p, err := New(context.Background(), Config{Initial: 1, Min: 1, Max: 1, Strategy: FIFO, Cooldown: 10 * time.Millisecond}, factory)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Release(context.Background(), conn, false))
	assert.Equal(t, 1, p.Stats()[StateCooling])

	time.Sleep(20 * time.Millisecond)
	conn2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, conn, conn2)
}

func TestValidateClosesFailingPinger(t *testing.T) {
	badConn := &fakeConn{id: 1, pingOK: false}
	factory := func(ctx context.Context) (Conn, error) { return badConn, nil }
	p, err := New(context.Background(), Config{Initial: 1, Min: 0, Max: 1, Strategy: FIFO}, factory)
	require.NoError(t, err)

	require.NoError(t, p.Validate(context.Background(), true))
	assert.True(t, badConn.closed.Load())
	assert.Equal(t, 0, len(p.Stats()))
}

func TestCloseTearsDownAllConnections(t *testing.T) {
	factory, _ := newFactory()
	p, err := New(context.Background(), Config{Initial: 2, Min: 0, Max: 2, Strategy: FIFO}, factory)
	require.NoError(t, err)

	require.NoError(t, p.Close())

	_, err = p.Acquire(context.Background(), 10*time.Millisecond)
	require.Error(t, err)
}

func TestLIFOStrategyReturnsMostRecentlyReleased(t *testing.T) {
	factory, _ := newFactory()
	p, err := New(context.Background(), Config{Initial: 2, Min: 2, Max: 2, Strategy: LIFO}, factory)
	require.NoError(t, err)

	c1, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Release(context.Background(), c1, false))
	require.NoError(t, p.Release(context.Background(), c2, false))

	got, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, c2, got)
}
