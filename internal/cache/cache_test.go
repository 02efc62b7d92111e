package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libpolycall/polycall-go/internal/types"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestMissOnAbsentKey(t *testing.T) {
	c := New(4, time.Minute)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a") // promotes a, b is now least recently used
	c.Put("c", 3)     // evicts b

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New(4, time.Nanosecond)
	c.Put("a", 1)
	time.Sleep(time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c := New(4, 0)
	c.Put("a", 1)
	time.Sleep(time.Millisecond)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestInvalidateRemovesKey(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("a", 1)
	assert.True(t, c.Invalidate("a"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.Invalidate("a"))
}

func TestClearResetsStateAndStats(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("missing")
	c.Clear()

	assert.Equal(t, 0, c.Len())
	hits, misses := c.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestStatsTrackHitsAndMisses(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	hits, misses := c.Stats()
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 1, misses)
}

func TestFingerprintStableAndSensitiveToArgs(t *testing.T) {
	args1 := []*types.Value{types.NewInt(types.Int32, 1)}
	args2 := []*types.Value{types.NewInt(types.Int32, 2)}

	fp1a := Fingerprint("py", "add", args1)
	fp1b := Fingerprint("py", "add", args1)
	fp2 := Fingerprint("py", "add", args2)

	assert.Equal(t, fp1a, fp1b)
	assert.NotEqual(t, fp1a, fp2)
}

func TestConversionKeyDistinguishesDestinationTag(t *testing.T) {
	v := types.NewInt(types.Int32, 7)
	k1 := ConversionKey("py", "node", types.Int64, v)
	k2 := ConversionKey("py", "node", types.Float64, v)
	assert.NotEqual(t, k1, k2)
}
