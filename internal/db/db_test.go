package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesDirectoryAndDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "orchestra.db")

	database, err := New(dbPath)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.Conn().Ping())
}

func TestRunMigrations(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.Migrate())

	// Migrations are idempotent.
	require.NoError(t, database.Migrate())

	for _, table := range []string{"workflows", "agent_executions", "user_checkpoints", "workflow_states", "notification_log"} {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrationsSeedNoRows(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, database.Migrate())

	var count int
	require.NoError(t, database.Conn().QueryRow("SELECT COUNT(*) FROM workflows").Scan(&count))
	assert.Equal(t, 0, count)
}
