package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	require.NoError(t, s.Set("key", "value"))
	got, ok := s.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "value", got)

	require.NoError(t, s.Set("key", "other"))
	got, _ = s.Get("key")
	assert.Equal(t, "other", got)

	require.NoError(t, s.Delete("key"))
	_, ok = s.Get("key")
	assert.False(t, ok)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	_, ok := s.Get("missing")
	assert.False(t, ok)

	require.NoError(t, s.Set("key", "value"))
	require.NoError(t, s.Set("key", "replaced"))
	got, ok := s.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "replaced", got)

	require.NoError(t, s.Delete("key"))
	_, ok = s.Get("key")
	assert.False(t, ok)

	require.NoError(t, s.Set("sticky", "survives"))
	require.NoError(t, s.Close())

	// Values survive a reopen, the way localStorage survives a reload.
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok = reopened.Get("sticky")
	assert.True(t, ok)
	assert.Equal(t, "survives", got)
}
