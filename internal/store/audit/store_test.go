package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append("orchestration_interval", "60", "120", "10.0.0.1"))
	require.NoError(t, s.Append("orchestration_interval", "120", "90", "10.0.0.2"))

	entries, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	assert.Equal(t, "90", entries[0].NewValue)
	assert.Equal(t, "120", entries[0].OldValue)
	assert.Equal(t, "10.0.0.2", entries[0].Source)
	assert.Equal(t, "60", entries[1].OldValue)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRecentLimitClamp(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append("orchestration_interval", "60", "90", "test"))
	}
	entries, err := s.Recent(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = s.Recent(0)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "non-positive limit falls back to the default")
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append("k", "a", "b", "test"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
