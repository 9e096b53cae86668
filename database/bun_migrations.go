package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// runMigrations runs all Bun migrations
func (b *BunDB) runMigrations(ctx context.Context) error {
	// Create a simple migrations tracking table
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bun_schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Check which migrations have been applied
	type AppliedMigration struct {
		bun.BaseModel `bun:"table:bun_schema_migrations"`
		Version       string `bun:"version"`
	}
	var applied []AppliedMigration
	err = b.db.NewSelect().
		Model(&applied).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	// Run migrations in order
	migrations := []struct {
		version string
		name    string
		up      func(context.Context, *bun.DB) error
	}{
		{"001", "create_documents_table", init001CreateDocumentsTable},
		{"002", "create_page_cache_table", init002CreatePageCacheTable},
		{"003", "create_jobs_table", init003CreateJobsTable},
	}

	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, b.db); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}

		// Mark as applied
		_, err = b.db.NewInsert().
			Model(&AppliedMigration{Version: m.version}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// Migration 001: Create documents table
func init001CreateDocumentsTable(ctx context.Context, db *bun.DB) error {
	// Detect database dialect - check if it's PostgreSQL by checking dialect features
	_, isPostgres := db.Dialect().(interface{ SupportsReturning() bool })

	var createTableSQL string
	if isPostgres {
		createTableSQL = `
			CREATE TABLE IF NOT EXISTS documents (
				id SERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				path TEXT NOT NULL UNIQUE,
				ulid TEXT NOT NULL UNIQUE,
				hash TEXT NOT NULL,
				byte_size BIGINT NOT NULL DEFAULT 0,
				page_count INTEGER NOT NULL DEFAULT 0,
				source_url TEXT,
				registered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	} else {
		createTableSQL = `
			CREATE TABLE IF NOT EXISTS documents (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				path TEXT NOT NULL UNIQUE,
				ulid TEXT NOT NULL UNIQUE,
				hash TEXT NOT NULL,
				byte_size BIGINT NOT NULL DEFAULT 0,
				page_count INTEGER NOT NULL DEFAULT 0,
				source_url TEXT,
				registered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	}

	_, err := db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(hash)",
		"CREATE INDEX IF NOT EXISTS idx_documents_ulid ON documents(ulid)",
		"CREATE INDEX IF NOT EXISTS idx_documents_registered_at ON documents(registered_at DESC)",
	}

	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Migration 002: Create page_cache table
func init002CreatePageCacheTable(ctx context.Context, db *bun.DB) error {
	_, isPostgres := db.Dialect().(interface{ SupportsReturning() bool })

	var createTableSQL string
	if isPostgres {
		createTableSQL = `
			CREATE TABLE IF NOT EXISTS page_cache (
				id SERIAL PRIMARY KEY,
				document_id TEXT NOT NULL,
				page_number INTEGER NOT NULL,
				scale DOUBLE PRECISION NOT NULL,
				rotation INTEGER NOT NULL DEFAULT 0,
				byte_size BIGINT NOT NULL,
				render_time_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_accessed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	} else {
		createTableSQL = `
			CREATE TABLE IF NOT EXISTS page_cache (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				document_id TEXT NOT NULL,
				page_number INTEGER NOT NULL,
				scale REAL NOT NULL,
				rotation INTEGER NOT NULL DEFAULT 0,
				byte_size BIGINT NOT NULL,
				render_time_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_accessed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	}

	_, err := db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create page_cache table: %w", err)
	}

	// The render identity is the unique cache key; upserts depend on it
	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_page_cache_identity ON page_cache(document_id, page_number, scale, rotation)",
		"CREATE INDEX IF NOT EXISTS idx_page_cache_document ON page_cache(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_page_cache_last_accessed ON page_cache(last_accessed_at)",
	}

	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Migration 003: Create jobs table
func init003CreateJobsTable(ctx context.Context, db *bun.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			progress INTEGER DEFAULT 0,
			current_step TEXT DEFAULT '',
			total_steps INTEGER DEFAULT 0,
			message TEXT DEFAULT '',
			error TEXT,
			result TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC)",
	}

	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			Logger.Warn("Could not create index (might not be supported)", "error", err)
		}
	}

	return nil
}
