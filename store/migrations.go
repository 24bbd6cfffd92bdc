package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration upgrades an existing database by one schema version.
type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, tx *sql.Tx) error
}

// migrations is append-only. Version 1 is schemaSQL itself.
var migrations = []migration{
	{
		version:     1,
		description: "base schema",
		apply:       func(context.Context, *sql.Tx) error { return nil },
	},
	{
		version:     2,
		description: "normalise entities.lower_name",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"UPDATE entities SET lower_name = lower(trim(name)) WHERE lower_name != lower(trim(name))")
			return err
		},
	},
	{
		version:     3,
		description: "add documents.document_context",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			ok, err := hasColumn(ctx, tx, "documents", "document_context")
			if err != nil || ok {
				return err
			}
			_, err = tx.ExecContext(ctx, "ALTER TABLE documents ADD COLUMN document_context TEXT")
			return err
		},
	},
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	return n > 0, err
}

// Migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		s.log.Info("store: migration applied", "version", m.version, "description", m.description)
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if err := m.apply(ctx, tx); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES (?, ?)",
		m.version, m.description); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.version, err)
	}
	return tx.Commit()
}
