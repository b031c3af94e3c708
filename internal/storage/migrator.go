package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

const migrationTableSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at DATETIME
);`

// migrate applies every migrations/*.sql file of fsys not yet recorded in schema_migrations,
// in lexical order, each inside its own transaction. It returns the number of applied files.
func migrate(db *sql.DB, fsys fs.FS) (int, error) {
	if _, err := db.Exec(migrationTableSchema); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}

	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to list migrations: %w", err)
	}
	slices.Sort(files)

	applied := 0
	for _, file := range files {
		version := path.Base(file)

		var exists int
		err := db.QueryRow("SELECT 1 FROM schema_migrations WHERE version = ?", version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return applied, fmt.Errorf("failed to check migration %s: %w", version, err)
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return applied, fmt.Errorf("failed to read migration %s: %w", version, err)
		}

		log.Info().Str("file", version).Msg("Applying catalog migration")

		if err := applyMigration(db, version, string(content)); err != nil {
			return applied, err
		}
		applied++
	}

	return applied, nil
}

func applyMigration(db *sql.DB, version, content string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(content); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to exec migration %s: %w", version, err)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}

	return tx.Commit()
}
