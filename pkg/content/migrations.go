package content

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all content schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create items table",
			SQL: `
				CREATE TABLE IF NOT EXISTS items (
					id BIGSERIAL PRIMARY KEY,
					parent_id BIGINT NOT NULL DEFAULT 0,
					type VARCHAR(64) NOT NULL,
					title TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_items_parent_id ON items(parent_id);
				CREATE INDEX idx_items_type ON items(type);
			`,
		},
		{
			Version:     2,
			Description: "Create item_groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS item_groups (
					item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
					group_id BIGINT NOT NULL,
					PRIMARY KEY (item_id, group_id)
				);

				CREATE INDEX idx_item_groups_group_id ON item_groups(group_id);
			`,
		},
		{
			Version:     3,
			Description: "Create item_meta table",
			SQL: `
				CREATE TABLE IF NOT EXISTS item_meta (
					item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
					meta_key VARCHAR(255) NOT NULL,
					meta_value TEXT NOT NULL,
					PRIMARY KEY (item_id, meta_key)
				);

				CREATE INDEX idx_item_meta_key ON item_meta(meta_key);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS content_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM content_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO content_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
