package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemoryAppliesMigrations(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	for _, table := range []string{"sheets", "sheet_headers", "sheet_rows", "sheet_cells"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpenFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkin.db")

	first, err := Open(path)
	require.NoError(t, err)
	_, err = first.Exec("INSERT INTO sheets (name) VALUES ('Rooms')")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Reopening must not re-run migrations or lose data.
	second, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, second.Close()) })

	var count int
	require.NoError(t, second.QueryRow("SELECT COUNT(*) FROM sheets").Scan(&count))
	assert.Equal(t, 1, count)
}
