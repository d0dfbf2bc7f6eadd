package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	migrations := []Migration{
		{Name: "001_create_widgets", SQL: `CREATE TABLE widgets (id TEXT PRIMARY KEY);`},
	}

	db, err := Open(path, "widgets", migrations)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO widgets (id) VALUES ('a')`)
	require.NoError(t, err)

	db2, err := Open(path, "widgets", migrations)
	require.NoError(t, err)
	defer db2.Close()

	var count int
	require.NoError(t, db2.Get(&count, `SELECT COUNT(*) FROM widgets`))
	require.Equal(t, 1, count)

	var migrated int
	require.NoError(t, db2.Get(&migrated, `SELECT COUNT(*) FROM _schema_migrations WHERE scope = 'widgets'`))
	require.Equal(t, 1, migrated)
}
