package ops

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/db"
	"github.com/hpungsan/convoset/internal/store"
)

// eachBackend runs fn against a fresh file store and a fresh SQLite store.
func eachBackend(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Helper()

	t.Run("file", func(t *testing.T) {
		st, err := store.NewFileStore(filepath.Join(t.TempDir(), "data"))
		require.NoError(t, err)
		fn(t, st)
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := db.Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		fn(t, st)
	})
}

func newFileStore(t *testing.T) *store.FileStore {
	t.Helper()
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	return st
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ExportsDir = t.TempDir()
	return cfg
}

// fixClock pins the package clock, advancing one second per call.
func fixClock(t *testing.T) {
	t.Helper()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	t.Cleanup(func() { now = time.Now })
}

func stringPtr(s string) *string {
	return &s
}
