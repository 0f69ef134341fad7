package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alkimya/orchestrator-core/scheduler"
)

// ErrActionNotFound is returned by LoadAction for an unknown id.
var ErrActionNotFound = errors.New("store: scheduled action not found")

type actionRow struct {
	ID              int64          `db:"id"`
	AgentID         sql.NullString `db:"agent_id"`
	Kind            string         `db:"kind"`
	ConfigJSON      []byte         `db:"config_json"`
	ScheduleKind    string         `db:"schedule_kind"`
	CronExpression  sql.NullString `db:"cron_expression"`
	IntervalSeconds sql.NullInt64  `db:"interval_s"`
	RunAt           sql.NullTime   `db:"run_at"`
	EventName       sql.NullString `db:"event_name"`
	Status          string         `db:"status"`
	NextRunAt       sql.NullTime   `db:"next_run_at"`
	TimeoutS        int            `db:"timeout_s"`
	MaxRetries      int            `db:"max_retries"`
	RetryDelayS     int            `db:"retry_delay_s"`
	AllowConcurrent bool           `db:"allow_concurrent"`
	ExecutionCount  int64          `db:"execution_count"`
	LastRunStatus   sql.NullString `db:"last_run_status"`
}

func (r actionRow) toDomain() (scheduler.ScheduledAction, error) {
	var config map[string]interface{}
	if len(r.ConfigJSON) > 0 {
		if err := json.Unmarshal(r.ConfigJSON, &config); err != nil {
			return scheduler.ScheduledAction{}, fmt.Errorf("store: unmarshaling config for action %d: %w", r.ID, err)
		}
	}
	action := scheduler.ScheduledAction{
		ID:              r.ID,
		AgentID:         r.AgentID.String,
		Kind:            scheduler.ActionKind(r.Kind),
		Config:          config,
		ScheduleKind:    scheduler.ScheduleKind(r.ScheduleKind),
		CronExpression:  r.CronExpression.String,
		IntervalSeconds: r.IntervalSeconds.Int64,
		EventName:       r.EventName.String,
		Status:          scheduler.ActionStatus(r.Status),
		Timeout:         time.Duration(r.TimeoutS) * time.Second,
		MaxRetries:      r.MaxRetries,
		RetryDelay:      time.Duration(r.RetryDelayS) * time.Second,
		AllowConcurrent: r.AllowConcurrent,
		ExecutionCount:  r.ExecutionCount,
		LastRunStatus:   r.LastRunStatus.String,
	}
	if r.RunAt.Valid {
		action.RunAt = &r.RunAt.Time
	}
	if r.NextRunAt.Valid {
		action.NextRunAt = &r.NextRunAt.Time
	}
	return action, nil
}

const actionColumns = `
	id, agent_id, kind, config_json, schedule_kind, cron_expression,
	interval_s, run_at, event_name, status, next_run_at, timeout_s,
	max_retries, retry_delay_s, allow_concurrent, execution_count, last_run_status
`

// DueActions returns every active action whose next_run_at has arrived,
// satisfying scheduler.ActionStore for the tick loop (§4.H).
func (d *DB) DueActions(ctx context.Context, now time.Time) ([]scheduler.ScheduledAction, error) {
	var rows []actionRow
	err := d.db.SelectContext(ctx, &rows, `
		SELECT `+actionColumns+`
		FROM scheduled_actions
		WHERE status = $1 AND next_run_at IS NOT NULL AND next_run_at <= $2
		ORDER BY next_run_at
	`, string(scheduler.ActionStatusActive), now)
	if err != nil {
		return nil, fmt.Errorf("store: loading due actions: %w", err)
	}
	return rowsToActions(rows)
}

// MissedActions returns the same candidate set as DueActions; it is the
// query the Scheduler Loop runs once at startup before ticking (§4.H),
// kept as a distinct method so a future implementation can widen the
// window (e.g. to also catch actions whose schedule_kind is cron but
// whose next_run_at predates a long outage) without touching DueActions.
func (d *DB) MissedActions(ctx context.Context, now time.Time) ([]scheduler.ScheduledAction, error) {
	return d.DueActions(ctx, now)
}

func rowsToActions(rows []actionRow) ([]scheduler.ScheduledAction, error) {
	out := make([]scheduler.ScheduledAction, 0, len(rows))
	for _, r := range rows {
		action, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, nil
}

// RecentActionRun reports whether actionID has a completed/running/pending
// run triggered at or after since, the crash-recovery dedup check of
// §4.H step 5.
func (d *DB) RecentActionRun(ctx context.Context, actionID int64, since time.Time) (bool, error) {
	var exists bool
	err := d.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM scheduled_action_runs
			WHERE action_id = $1 AND triggered_at >= $2
			  AND status IN ($3, $4, $5)
		)
	`, actionID, since, string(scheduler.ActionRunCompleted), string(scheduler.ActionRunRunning), string(scheduler.ActionRunPending))
	if err != nil {
		return false, fmt.Errorf("store: checking recent action runs for %d: %w", actionID, err)
	}
	return exists, nil
}

// SaveAction upserts a scheduled_actions row, satisfying scheduler.ActionStore.
func (d *DB) SaveAction(ctx context.Context, action *scheduler.ScheduledAction) error {
	if err := action.Validate(); err != nil {
		return err
	}

	config, err := json.Marshal(action.Config)
	if err != nil {
		return fmt.Errorf("store: marshaling config for action %d: %w", action.ID, err)
	}

	const query = `
		INSERT INTO scheduled_actions (
			id, agent_id, kind, config_json, schedule_kind, cron_expression,
			interval_s, run_at, event_name, status, next_run_at, timeout_s,
			max_retries, retry_delay_s, allow_concurrent, execution_count, last_run_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			agent_id         = EXCLUDED.agent_id,
			kind             = EXCLUDED.kind,
			config_json      = EXCLUDED.config_json,
			schedule_kind    = EXCLUDED.schedule_kind,
			cron_expression  = EXCLUDED.cron_expression,
			interval_s       = EXCLUDED.interval_s,
			run_at           = EXCLUDED.run_at,
			event_name       = EXCLUDED.event_name,
			status           = EXCLUDED.status,
			next_run_at      = EXCLUDED.next_run_at,
			timeout_s        = EXCLUDED.timeout_s,
			max_retries      = EXCLUDED.max_retries,
			retry_delay_s    = EXCLUDED.retry_delay_s,
			allow_concurrent = EXCLUDED.allow_concurrent,
			execution_count  = EXCLUDED.execution_count,
			last_run_status  = EXCLUDED.last_run_status
	`
	_, err = d.db.ExecContext(ctx, query,
		action.ID, nullString(action.AgentID), action.Kind, config, action.ScheduleKind, nullString(action.CronExpression),
		action.IntervalSeconds, nullTime(action.RunAt), nullString(action.EventName), action.Status,
		nullTime(action.NextRunAt), int(action.Timeout.Seconds()), action.MaxRetries,
		int(action.RetryDelay.Seconds()), action.AllowConcurrent, action.ExecutionCount, nullString(action.LastRunStatus),
	)
	if err != nil {
		return fmt.Errorf("store: saving scheduled action %d: %w", action.ID, err)
	}
	return nil
}

// LoadAction fetches one scheduled action by id.
func (d *DB) LoadAction(ctx context.Context, actionID int64) (*scheduler.ScheduledAction, error) {
	var row actionRow
	err := d.db.GetContext(ctx, &row, `SELECT `+actionColumns+` FROM scheduled_actions WHERE id = $1`, actionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading scheduled action %d: %w", actionID, err)
	}
	action, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// SaveActionRun upserts a scheduled_action_runs row, satisfying
// scheduler.ActionStore.
func (d *DB) SaveActionRun(ctx context.Context, run *scheduler.ScheduledActionRun) error {
	const query = `
		INSERT INTO scheduled_action_runs (
			id, action_id, triggered_at, triggered_by, status,
			started_at, completed_at, error, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			started_at   = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error        = EXCLUDED.error,
			retry_count  = EXCLUDED.retry_count
	`
	_, err := d.db.ExecContext(ctx, query,
		run.ID, run.ActionID, run.TriggeredAt, run.TriggeredBy, run.Status,
		nullTime(run.StartedAt), nullTime(run.CompletedAt), run.Error, run.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("store: saving scheduled action run %s: %w", run.ID, err)
	}
	return nil
}
