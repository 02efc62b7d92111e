package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/types"
)

func addSig() *types.Signature {
	return types.NewSignature(types.NewDescriptor(types.Int32), types.NewDescriptor(types.Int32), types.NewDescriptor(types.Int32))
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("py", "add", addSig(), "native-add-ptr", FlagPure))

	e, err := r.Lookup("py", "add")
	require.NoError(t, err)
	assert.Equal(t, "add", e.Name)
	assert.True(t, e.Flags.Has(FlagPure))
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("py", "add", addSig(), nil, FlagNone))
	err := r.Register("py", "add", addSig(), nil, FlagNone)
	require.Error(t, err)
	assert.Equal(t, perr.AlreadyExists, perr.CodeOf(err))
}

func TestLookupMissingReturnsFunctionNotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("py", "missing")
	require.Error(t, err)
	assert.Equal(t, perr.FunctionNotFound, perr.CodeOf(err))
}

func TestUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("py", "add", addSig(), nil, FlagNone))
	require.NoError(t, r.Unregister("py", "add"))
	_, err := r.Lookup("py", "add")
	assert.Error(t, err)
}

func TestRegisterRejectsNilSignature(t *testing.T) {
	r := New()
	err := r.Register("py", "add", nil, nil, FlagNone)
	require.Error(t, err)
	assert.Equal(t, perr.InvalidType, perr.CodeOf(err))
}

func TestLookupClonesAreIndependent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("py", "add", addSig(), nil, FlagNone))
	e1, _ := r.Lookup("py", "add")
	e1.Signature.Variadic = true

	e2, _ := r.Lookup("py", "add")
	assert.False(t, e2.Signature.Variadic, "mutating one lookup's clone must not affect another")
}

// TestConcurrentRegisterNeverExposesPartialEntry exercises the
// registry-uniqueness and no-partial-publication invariants under
// concurrent writers, mirroring commbus_test.go's concurrency checks.
func TestConcurrentRegisterNeverExposesPartialEntry(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	successCount := 0
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Register("py", "add", addSig(), nil, FlagNone); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "exactly one concurrent registration should win")
	e, err := r.Lookup("py", "add")
	require.NoError(t, err)
	require.NotNil(t, e.Signature)
	assert.Len(t, e.Signature.Params, 2)
}
