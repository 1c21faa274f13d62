// Package migrate applies SQL migration files in filename order, recording
// applied files in schema_migrations so reruns are safe.
package migrate

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Runner applies the .sql files under Dir against DB.
type Runner struct {
	DB  *sql.DB
	Dir string
}

func (r *Runner) ensureTable() error {
	_, err := r.DB.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

// Pending returns the migration filenames not yet recorded as applied, in
// filename order.
func (r *Runner) Pending() ([]string, error) {
	if err := r.ensureTable(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", r.Dir, err)
	}

	var pending []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var exists bool
		err := r.DB.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`,
			entry.Name()).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check migration %s: %w", entry.Name(), err)
		}
		if !exists {
			pending = append(pending, entry.Name())
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// Run applies all pending migrations, each in its own transaction, and
// returns how many were applied.
func (r *Runner) Run() (int, error) {
	pending, err := r.Pending()
	if err != nil {
		return 0, err
	}

	for i, name := range pending {
		if err := r.applyOne(name); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func (r *Runner) applyOne(name string) error {
	content, err := os.ReadFile(filepath.Join(r.Dir, name))
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	log.Printf("[migrate] applying %s", name)
	tx, err := r.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if _, err := tx.Exec(string(content)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s failed: %w", name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}
	return nil
}
