package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/stapelberg/postgrestest"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/extra/bundebug"
)

// SetupEphemeralPostgresDatabase starts a throwaway PostgreSQL instance
// and returns a migrated repository bound to it. Used for development
// runs and integration tests; the server is torn down on Close.
func SetupEphemeralPostgresDatabase() (*BunDB, error) {
	Logger.Info("Starting ephemeral PostgreSQL server...")

	ctx := context.Background()

	pgt, err := postgrestest.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start ephemeral postgres: %w", err)
	}

	dsn, err := pgt.CreateDatabase(ctx)
	if err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to create ephemeral database: %w", err)
	}

	Logger.Info("Created ephemeral database", "dsn", dsn)

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to open ephemeral database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to ping ephemeral database: %w", err)
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(false)))

	result := &BunDB{
		db:      db,
		dbType:  "postgres",
		cleanup: pgt.Cleanup,
	}

	if err := result.runMigrations(ctx); err != nil {
		db.Close()
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	Logger.Info("Connected to ephemeral PostgreSQL database successfully")
	return result, nil
}
