// Package store opens embedded SQLite databases with WAL journaling and
// applies idempotent schema migrations, shared across the identity,
// delegation, delegation_budget, idempotency, lease, and quota scopes.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

// Migration is one named, idempotent DDL step applied within a scope.
type Migration struct {
	Name string
	SQL  string
}

// Open opens (creating parent directories and the file if needed) a SQLite
// database at path, enables WAL journaling, and applies migrations under
// scope in order, recording each in _schema_migrations.
func Open(path, scope string, migrations []Migration) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, fmt.Errorf("store: set synchronous: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		return nil, fmt.Errorf("store: enable foreign_keys: %w", err)
	}

	if err := migrate(db, scope, migrations); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(db *sqlx.DB, scope string, migrations []Migration) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _schema_migrations (
			scope          TEXT NOT NULL,
			migration_name TEXT NOT NULL,
			applied_at     TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (scope, migration_name)
		);
	`); err != nil {
		return fmt.Errorf("store: create _schema_migrations: %w", err)
	}

	for _, m := range migrations {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin tx for migration %s/%s: %w", scope, m.Name, err)
		}

		var already int
		err = tx.GetContext(ctx, &already,
			`SELECT COUNT(*) FROM _schema_migrations WHERE scope = ? AND migration_name = ?`,
			scope, m.Name)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("store: check migration %s/%s: %w", scope, m.Name, err)
		}
		if already > 0 {
			tx.Rollback()
			continue
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %s/%s: %w", scope, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _schema_migrations (scope, migration_name) VALUES (?, ?)`,
			scope, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %s/%s: %w", scope, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s/%s: %w", scope, m.Name, err)
		}
	}
	return nil
}
