package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestCutoffs(t *testing.T) {
	s, path := openTemp(t)

	got, err := s.LoadCutoffs("A")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SaveCutoff("A", "A__B", 1000))
	require.NoError(t, s.SaveCutoff("A", "A__C", 2000))
	require.NoError(t, s.SaveCutoff("B", "A__B", 3000))
	require.NoError(t, s.SaveCutoff("A", "A__B", 1500))
	assert.Error(t, s.SaveCutoff("", "A__B", 1))

	require.NoError(t, s.Close())

	// reopen, cutoffs are durable and per identity.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err = s.LoadCutoffs("A")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A__B": 1500, "A__C": 2000}, got)

	got, err = s.LoadCutoffs("B")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A__B": 3000}, got)
}

func TestNotificationsEnabled(t *testing.T) {
	s, path := openTemp(t)

	enabled, err := s.LoadNotificationsEnabled()
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, s.SaveNotificationsEnabled(true))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	enabled, err = s.LoadNotificationsEnabled()
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.SaveNotificationsEnabled(false))
	enabled, err = s.LoadNotificationsEnabled()
	require.NoError(t, err)
	assert.False(t, enabled)
}
