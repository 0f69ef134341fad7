package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alkimya/orchestrator-core/pipeline"
)

// pipelineRow mirrors the pipelines table (§6). The definition's nodes and
// edges round-trip through definition_json; timeout/retry columns are
// duplicated out of the blob so they can be queried/indexed directly.
type pipelineRow struct {
	ID                string  `db:"id"`
	DefinitionJSON    []byte  `db:"definition_json"`
	TimeoutS          float64 `db:"timeout_s"`
	MaxRetriesPerNode int     `db:"max_retries_per_node"`
	RetryBackoffBaseS float64 `db:"retry_backoff_base_s"`
	RetryBackoffMaxS  float64 `db:"retry_backoff_max_s"`
}

type definitionBody struct {
	Nodes []pipeline.Node `json:"nodes"`
	Edges []pipeline.Edge `json:"edges"`
}

// ErrDefinitionNotFound is returned by LoadDefinition for an unknown id.
var ErrDefinitionNotFound = errors.New("store: pipeline definition not found")

// SaveDefinition upserts a pipeline definition (§6 pipelines table).
func (d *DB) SaveDefinition(ctx context.Context, def *pipeline.PipelineDefinition) error {
	body, err := json.Marshal(definitionBody{Nodes: def.Nodes, Edges: def.Edges})
	if err != nil {
		return fmt.Errorf("store: marshaling pipeline definition: %w", err)
	}

	const query = `
		INSERT INTO pipelines (
			id, definition_json, timeout_s, max_retries_per_node,
			retry_backoff_base_s, retry_backoff_max_s, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			definition_json      = EXCLUDED.definition_json,
			timeout_s            = EXCLUDED.timeout_s,
			max_retries_per_node = EXCLUDED.max_retries_per_node,
			retry_backoff_base_s = EXCLUDED.retry_backoff_base_s,
			retry_backoff_max_s  = EXCLUDED.retry_backoff_max_s,
			updated_at           = NOW()
	`
	_, err = d.db.ExecContext(ctx, query,
		def.ID, body, def.Timeout.Seconds(), def.MaxRetriesPerNode,
		def.RetryBackoffBase.Seconds(), def.RetryBackoffMax.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("store: saving pipeline definition %s: %w", def.ID, err)
	}
	return nil
}

// LoadDefinition fetches a pipeline definition by id, satisfying
// scheduler.PipelineLoader for the execute_pipeline action kind.
func (d *DB) LoadDefinition(ctx context.Context, pipelineID string) (*pipeline.PipelineDefinition, error) {
	var row pipelineRow
	err := d.db.GetContext(ctx, &row, `
		SELECT id, definition_json, timeout_s, max_retries_per_node,
		       retry_backoff_base_s, retry_backoff_max_s
		FROM pipelines WHERE id = $1
	`, pipelineID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDefinitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading pipeline definition %s: %w", pipelineID, err)
	}

	var body definitionBody
	if err := json.Unmarshal(row.DefinitionJSON, &body); err != nil {
		return nil, fmt.Errorf("store: unmarshaling pipeline definition %s: %w", pipelineID, err)
	}

	return &pipeline.PipelineDefinition{
		ID:                row.ID,
		Nodes:             body.Nodes,
		Edges:             body.Edges,
		Timeout:           durationFromSeconds(row.TimeoutS),
		MaxRetriesPerNode: row.MaxRetriesPerNode,
		RetryBackoffBase:  durationFromSeconds(row.RetryBackoffBaseS),
		RetryBackoffMax:   durationFromSeconds(row.RetryBackoffMaxS),
	}, nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SaveRun upserts a pipeline_runs row, satisfying pipeline.Store (§4.E/F
// persist the run on every terminal transition and, best-effort, mid-run).
func (d *DB) SaveRun(ctx context.Context, run *pipeline.PipelineRun) error {
	triggerData, err := json.Marshal(run.TriggerData)
	if err != nil {
		return fmt.Errorf("store: marshaling trigger_data for run %s: %w", run.ID, err)
	}

	var durationS interface{}
	if run.CompletedAt != nil {
		durationS = run.CompletedAt.Sub(run.StartedAt).Seconds()
	}

	const query = `
		INSERT INTO pipeline_runs (
			id, pipeline_id, status, trigger_data_json, current_node,
			started_at, completed_at, error, duration_s
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status            = EXCLUDED.status,
			current_node      = EXCLUDED.current_node,
			completed_at      = EXCLUDED.completed_at,
			error             = EXCLUDED.error,
			duration_s        = EXCLUDED.duration_s
	`
	_, err = d.db.ExecContext(ctx, query,
		run.ID, run.PipelineID, run.Status, triggerData, run.CurrentNode,
		run.StartedAt, nullTime(run.CompletedAt), run.Error, durationS,
	)
	if err != nil {
		return fmt.Errorf("store: saving pipeline run %s: %w", run.ID, err)
	}
	return nil
}

// LoadRun fetches a pipeline run's current persisted state by id.
func (d *DB) LoadRun(ctx context.Context, runID string) (*pipeline.PipelineRun, error) {
	var row struct {
		ID              string         `db:"id"`
		PipelineID      string         `db:"pipeline_id"`
		Status          string         `db:"status"`
		TriggerDataJSON []byte         `db:"trigger_data_json"`
		CurrentNode     sql.NullString `db:"current_node"`
		StartedAt       time.Time      `db:"started_at"`
		CompletedAt     sql.NullTime   `db:"completed_at"`
		Error           sql.NullString `db:"error"`
	}
	err := d.db.GetContext(ctx, &row, `
		SELECT id, pipeline_id, status, trigger_data_json, current_node,
		       started_at, completed_at, error
		FROM pipeline_runs WHERE id = $1
	`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %s: %w", runID, ErrDefinitionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading pipeline run %s: %w", runID, err)
	}

	var triggerData map[string]interface{}
	if len(row.TriggerDataJSON) > 0 {
		if err := json.Unmarshal(row.TriggerDataJSON, &triggerData); err != nil {
			return nil, fmt.Errorf("store: unmarshaling trigger_data for run %s: %w", runID, err)
		}
	}

	run := &pipeline.PipelineRun{
		ID:          row.ID,
		PipelineID:  row.PipelineID,
		Status:      pipeline.RunStatus(row.Status),
		TriggerData: triggerData,
		StartedAt:   row.StartedAt,
		CurrentNode: row.CurrentNode.String,
		Error:       row.Error.String,
	}
	if row.CompletedAt.Valid {
		run.CompletedAt = &row.CompletedAt.Time
	}
	return run, nil
}

// SaveNodeRun upserts a pipeline_node_runs row, satisfying pipeline.Store.
func (d *DB) SaveNodeRun(ctx context.Context, nodeRun *pipeline.NodeRun) error {
	inputSummary, err := json.Marshal(nodeRun.InputSummary)
	if err != nil {
		return fmt.Errorf("store: marshaling input_summary for %s/%s: %w", nodeRun.RunID, nodeRun.NodeID, err)
	}
	outputSummary, err := json.Marshal(nodeRun.OutputSummary)
	if err != nil {
		return fmt.Errorf("store: marshaling output_summary for %s/%s: %w", nodeRun.RunID, nodeRun.NodeID, err)
	}

	const query = `
		INSERT INTO pipeline_node_runs (
			run_id, node_id, kind, status, input_summary_json,
			output_summary_json, error, retry_count, started_at,
			completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			status               = EXCLUDED.status,
			output_summary_json  = EXCLUDED.output_summary_json,
			error                = EXCLUDED.error,
			retry_count          = EXCLUDED.retry_count,
			completed_at         = EXCLUDED.completed_at,
			duration_ms          = EXCLUDED.duration_ms
	`
	_, err = d.db.ExecContext(ctx, query,
		nodeRun.RunID, nodeRun.NodeID, nodeRun.Kind, nodeRun.Status, inputSummary,
		outputSummary, nodeRun.Error, nodeRun.RetryCount, nodeRun.StartedAt,
		nullTime(nodeRun.CompletedAt), nodeRun.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("store: saving node run %s/%s: %w", nodeRun.RunID, nodeRun.NodeID, err)
	}
	return nil
}

// NodeRunsForRun returns every node_run recorded for runID, ordered by
// start time, for audit/debugging.
func (d *DB) NodeRunsForRun(ctx context.Context, runID string) ([]pipeline.NodeRun, error) {
	type nodeRunRow struct {
		RunID             string         `db:"run_id"`
		NodeID            string         `db:"node_id"`
		Kind              string         `db:"kind"`
		Status            string         `db:"status"`
		InputSummaryJSON  []byte         `db:"input_summary_json"`
		OutputSummaryJSON []byte         `db:"output_summary_json"`
		Error             sql.NullString `db:"error"`
		RetryCount        int            `db:"retry_count"`
		StartedAt         time.Time      `db:"started_at"`
		CompletedAt       sql.NullTime   `db:"completed_at"`
		DurationMS        sql.NullInt64  `db:"duration_ms"`
	}

	var rows []nodeRunRow
	err := d.db.SelectContext(ctx, &rows, `
		SELECT run_id, node_id, kind, status, input_summary_json,
		       output_summary_json, error, retry_count, started_at,
		       completed_at, duration_ms
		FROM pipeline_node_runs WHERE run_id = $1 ORDER BY started_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: loading node runs for %s: %w", runID, err)
	}

	out := make([]pipeline.NodeRun, 0, len(rows))
	for _, r := range rows {
		nr := pipeline.NodeRun{
			RunID:      r.RunID,
			NodeID:     r.NodeID,
			Kind:       pipeline.NodeKind(r.Kind),
			Status:     pipeline.NodeRunStatus(r.Status),
			Error:      r.Error.String,
			RetryCount: r.RetryCount,
			StartedAt:  r.StartedAt,
			DurationMS: r.DurationMS.Int64,
		}
		if len(r.InputSummaryJSON) > 0 {
			_ = json.Unmarshal(r.InputSummaryJSON, &nr.InputSummary)
		}
		if len(r.OutputSummaryJSON) > 0 {
			_ = json.Unmarshal(r.OutputSummaryJSON, &nr.OutputSummary)
		}
		if r.CompletedAt.Valid {
			nr.CompletedAt = &r.CompletedAt.Time
		}
		out = append(out, nr)
	}
	return out, nil
}
