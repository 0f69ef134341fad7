// Package store implements the relational persistence layer of §6:
// pipelines, pipeline_runs, pipeline_node_runs, scheduled_actions, and
// scheduled_action_runs over PostgreSQL, via sqlx wrapping lib/pq.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the shared connection pool used by every component that needs
// persistence (§5 "shared resource policy": acquired for a single logical
// operation, released promptly, never held across suspension points
// except the Advisory Lock's own transaction in the `lock` package).
type DB struct {
	db     *sqlx.DB
	logger core.Logger
}

// Open connects to cfg.DSN via lib/pq, applies the pool sizing, and
// returns a ready DB. It does not run migrations; call Migrate
// separately when cfg.MigrateOnStart is set.
func Open(cfg core.StoreConfig, logger core.Logger) (*DB, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cl, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cl.WithComponent("store")
	}

	sqlxDB, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to postgres: %w", err)
	}

	sqlxDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &DB{db: sqlxDB, logger: logger}, nil
}

// Migrate applies every pending goose migration embedded under
// migrations/.
func (d *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, d.db.DB, "migrations"); err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// nullTime converts a possibly-nil *time.Time to a driver-friendly value.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// nullString converts an empty string to SQL NULL, so optional text
// columns (agent_id, cron_expression, event_name, last_run_status) stay
// distinguishable from "explicitly set to empty" in the database.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
