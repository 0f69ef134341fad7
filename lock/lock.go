// Package lock implements the Advisory Lock Primitive (§4.A): a
// non-blocking, transaction-scoped distributed mutex over a (namespace,
// resource) pair, used by the Scheduler Loop to linearize action dispatch
// across instances.
package lock

import (
	"context"
	"errors"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchedulerNamespace is the fixed namespace reserved for scheduler actions
// (§4.A: "a fixed namespace constant (value 1)").
const SchedulerNamespace = 1

// Advisory acquires a non-blocking, transaction-scoped lock over
// (namespace, resource) and, if acquired, runs fn for the lifetime of the
// underlying transaction. The lock is held until fn returns and the
// transaction commits or rolls back, so it never outlives the call to Do.
//
// Do returns acquired=false (fn never runs) when another holder already
// owns the lock, or when the store is unreachable — acquisition failures
// fail closed per §4.A, never returning true on an uncertain outcome.
type Advisory interface {
	Do(ctx context.Context, namespace, resource int64, fn func(ctx context.Context) error) (acquired bool, err error)
}

// NoopAdvisory always acquires. Used in single-instance deployments with
// no lock store wired; coordination degrades to the Scheduler Loop's
// in-process running-actions set, which is still correct for one instance.
type NoopAdvisory struct{}

func (NoopAdvisory) Do(ctx context.Context, namespace, resource int64, fn func(ctx context.Context) error) (bool, error) {
	return true, fn(ctx)
}

// PgAdvisory backs Advisory with Postgres's pg_try_advisory_xact_lock,
// wrapped in a dedicated transaction per call.
type PgAdvisory struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

func NewPgAdvisory(pool *pgxpool.Pool, logger core.Logger) *PgAdvisory {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cl, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cl.WithComponent("lock")
	}
	return &PgAdvisory{pool: pool, logger: logger}
}

func (a *PgAdvisory) Do(ctx context.Context, namespace, resource int64, fn func(ctx context.Context) error) (bool, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		a.logger.Warn("advisory lock: failed to begin transaction, failing closed", map[string]interface{}{
			"namespace": namespace, "resource": resource, "error": err.Error(),
		})
		return false, err
	}

	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", namespace, resource).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		a.logger.Warn("advisory lock: acquisition query failed, failing closed", map[string]interface{}{
			"namespace": namespace, "resource": resource, "error": err.Error(),
		})
		return false, err
	}

	if !acquired {
		_ = tx.Rollback(ctx)
		return false, nil
	}

	fnErr := fn(ctx)
	if fnErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return true, errors.Join(fnErr, rbErr)
		}
		return true, fnErr
	}

	if err := tx.Commit(ctx); err != nil {
		return true, err
	}
	return true, nil
}
