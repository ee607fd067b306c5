package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// applyBaseSchema executes every embedded .sql file in lexical order. Each
// statement guards itself with IF NOT EXISTS, so re-running against an
// already migrated database is a no-op.
func applyBaseSchema(ctx context.Context, db *sql.DB) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// addColumnIfMissing adds a column via ALTER TABLE only when it does not
// already exist. SQLite has no ADD COLUMN IF NOT EXISTS, so the check is
// done against PRAGMA table_info, making the migration idempotent the same
// way the embedded CREATE TABLE statements are.
func addColumnIfMissing(ctx context.Context, db *sql.DB, table, column, ddl string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		if name == column {
			return nil // already present
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// applyAdditiveMigrations applies the recognised schema additions beyond
// the base schema: per-tag alert fields, per-tag block fields, the rule
// process-path pattern, and tag category. Every addition is independently
// idempotent.
func applyAdditiveMigrations(ctx context.Context, db *sql.DB) error {
	additions := []struct {
		table, column, ddl string
	}{
		{"tags", "category", "TEXT NOT NULL DEFAULT 'other'"},
		{"tags", "alert_enabled", "INTEGER NOT NULL DEFAULT 0"},
		{"tags", "alert_message", "TEXT NOT NULL DEFAULT ''"},
		{"tags", "alert_cooldown", "INTEGER NOT NULL DEFAULT 60"},
		{"tags", "block_enabled", "INTEGER NOT NULL DEFAULT 0"},
		{"tags", "block_start", "TEXT NOT NULL DEFAULT ''"},
		{"tags", "block_end", "TEXT NOT NULL DEFAULT ''"},
		{"rules", "process_path_pattern", "TEXT NOT NULL DEFAULT ''"},
		{"rules", "browser_profile", "TEXT NOT NULL DEFAULT ''"},
		{"activities", "browser_profile", "TEXT"},
	}
	for _, a := range additions {
		if err := addColumnIfMissing(ctx, db, a.table, a.column, a.ddl); err != nil {
			return err
		}
	}
	return nil
}

// Migrate brings the database up to the current schema. It is safe to call
// on every start-up.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := applyBaseSchema(ctx, db); err != nil {
		return err
	}
	return applyAdditiveMigrations(ctx, db)
}
