package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}
}

func TestDatabase_ConnectAndHealth(t *testing.T) {
	db, err := New(sqliteConfig(t))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Connect(ctx))
	require.NoError(t, db.HealthCheck(ctx))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Contains(t, stats, "open_connections")
	assert.Contains(t, stats, "in_use")
}

func TestWaitForDatabase(t *testing.T) {
	cfg := sqliteConfig(t)

	err := WaitForDatabase(context.Background(), cfg, 3, time.Millisecond)
	assert.NoError(t, err)
}
