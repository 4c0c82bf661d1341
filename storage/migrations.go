package storage

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create projects, branches and elements tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS projects (
					id VARCHAR PRIMARY KEY,
					name VARCHAR NOT NULL,
					current_branch_id VARCHAR,
					created_at BIGINT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS branches (
					id VARCHAR PRIMARY KEY,
					project_id VARCHAR NOT NULL,
					name VARCHAR NOT NULL,
					parent_branch_id VARCHAR,
					head_commit_id VARCHAR,
					created_at BIGINT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS elements (
					id VARCHAR PRIMARY KEY,
					kind VARCHAR NOT NULL,
					name VARCHAR NOT NULL,
					branch_id VARCHAR NOT NULL,
					owner_id VARCHAR,
					relation VARCHAR,
					ordinal INTEGER NOT NULL,
					fields TEXT NOT NULL,
					created_at BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_elements_scope ON elements(branch_id, kind, name);
				CREATE INDEX IF NOT EXISTS idx_elements_owner ON elements(owner_id, relation)
			`,
		},
		{
			Version:     2,
			Description: "Add commits table",
			SQL: `
				CREATE TABLE IF NOT EXISTS commits (
					id VARCHAR PRIMARY KEY,
					branch_id VARCHAR NOT NULL,
					root_id VARCHAR NOT NULL,
					root_kind VARCHAR NOT NULL,
					author VARCHAR NOT NULL,
					added INTEGER NOT NULL,
					modified INTEGER NOT NULL,
					deleted INTEGER NOT NULL,
					created_at BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(branch_id, created_at)
			`,
		},
		{
			Version:     3,
			Description: "Add write sequence to elements and commits",
			// DuckDB refuses to alter a table that still has indexes.
			SQL: `
				DROP INDEX IF EXISTS idx_elements_scope;
				DROP INDEX IF EXISTS idx_elements_owner;
				DROP INDEX IF EXISTS idx_commits_branch;

				ALTER TABLE elements ADD COLUMN seq BIGINT DEFAULT 0;
				ALTER TABLE commits ADD COLUMN seq BIGINT DEFAULT 0;

				CREATE INDEX IF NOT EXISTS idx_elements_scope ON elements(branch_id, kind, name);
				CREATE INDEX IF NOT EXISTS idx_elements_owner ON elements(owner_id, relation);
				CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(branch_id, seq)
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB, d dialect) error {
	c := conn{q: db, dialect: d}

	// Create migrations table if it doesn't exist
	_, err := c.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current schema version
	var currentVersion int
	err = c.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	log.Printf("Current schema version: %d", currentVersion)

	appliedCount := 0
	for _, migration := range GetMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		log.Printf("Applying migration %d: %s", migration.Version, migration.Description)

		if err := applyMigration(db, d, migration); err != nil {
			return err
		}

		log.Printf("Successfully applied migration %d", migration.Version)
		appliedCount++
	}

	if appliedCount > 0 {
		log.Printf("Applied %d migration(s)", appliedCount)
	} else {
		log.Println("No pending migrations")
	}

	return nil
}

func applyMigration(db *sql.DB, d dialect, migration Migration) error {
	// Start transaction
	sqlTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
	}
	tx := conn{q: sqlTx, dialect: d}

	// Execute migration SQL one statement at a time; not every driver
	// accepts multi-statement strings.
	for _, stmt := range strings.Split(migration.SQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			sqlTx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
	}

	// Record migration
	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Description, time.Now().UnixMilli(),
	)
	if err != nil {
		sqlTx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	// Commit transaction
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
