package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTripPerKind(t *testing.T) {
	s := New(false)
	require.NoError(t, s.SetBool("pool", "auto_scale", true))
	require.NoError(t, s.SetInt("pool", "max", 10))
	require.NoError(t, s.SetFloat("cache", "ttl_seconds", 30.5))
	require.NoError(t, s.SetString("dispatch", "default_language", "python"))
	require.NoError(t, s.SetObject("dispatch", "extra", map[string]any{"a": 1}))

	assert.True(t, s.GetBool("pool", "auto_scale", false))
	assert.Equal(t, int64(10), s.GetInt("pool", "max", 0))
	assert.Equal(t, 30.5, s.GetFloat("cache", "ttl_seconds", 0))
	assert.Equal(t, "python", s.GetString("dispatch", "default_language", ""))
	assert.Equal(t, map[string]any{"a": 1}, s.GetObject("dispatch", "extra", nil))
}

func TestGetReturnsDefaultWhenMissing(t *testing.T) {
	s := New(false)
	assert.Equal(t, int64(42), s.GetInt("missing", "key", 42))
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	s := New(true)
	s.SetDefault("pool", "max", KindInt, int64(4))
	require.NoError(t, s.SetInt("pool", "max", 8))
	err := s.SetInt("pool", "unknown", 1)
	require.Error(t, err)
}

func TestResetDefaultsRestoresOneSection(t *testing.T) {
	s := New(false)
	s.SetDefault("pool", "max", KindInt, int64(4))
	require.NoError(t, s.SetInt("pool", "max", 99))
	s.ResetDefaults("pool")
	assert.Equal(t, int64(4), s.GetInt("pool", "max", 0))
}

func TestChangeHandlerFiresAfterUpdate(t *testing.T) {
	s := New(false)
	var gotSection, gotKey string
	var gotValue any
	s.RegisterChangeHandler("pool", "max", func(section, key string, newValue any) {
		gotSection, gotKey, gotValue = section, key, newValue
	})
	require.NoError(t, s.SetInt("pool", "max", 7))
	assert.Equal(t, "pool", gotSection)
	assert.Equal(t, "max", gotKey)
	assert.Equal(t, int64(7), gotValue)
}

func TestChangeHandlerRejectsReentrantSet(t *testing.T) {
	s := New(false)
	var reentrantErr error
	s.RegisterChangeHandler("pool", "max", func(section, key string, newValue any) {
		reentrantErr = s.SetInt("pool", "other", 1)
	})
	require.NoError(t, s.SetInt("pool", "max", 1))
	require.Error(t, reentrantErr)
}

func TestSaveLoadJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s := New(false)
	require.NoError(t, s.SetInt("pool", "max", 5))
	require.NoError(t, s.SetString("dispatch", "default_language", "go"))
	require.NoError(t, s.Save(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	s2 := New(false)
	require.NoError(t, s2.Load(path))
	assert.Equal(t, int64(5), s2.GetInt("pool", "max", 0))
	assert.Equal(t, "go", s2.GetString("dispatch", "default_language", ""))
}

func TestSaveLoadYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	s := New(false)
	require.NoError(t, s.SetBool("pool", "auto_scale", true))
	require.NoError(t, s.Save(path))

	s2 := New(false)
	require.NoError(t, s2.Load(path))
	assert.True(t, s2.GetBool("pool", "auto_scale", false))
}
