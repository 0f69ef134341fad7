// Package pipeline implements the Pipeline Execution Engine (§4.D–§4.F):
// the node dispatch table, the per-run Executor, and the Run Manager that
// owns every live run.
package pipeline

import (
	"time"

	"github.com/alkimya/orchestrator-core/dag"
)

// NodeKind enumerates the node kinds a PipelineDefinition may contain (§3).
type NodeKind string

const (
	KindTrigger   NodeKind = "trigger"
	KindAgent     NodeKind = "agent"
	KindCondition NodeKind = "condition"
	KindAction    NodeKind = "action"
	KindParallel  NodeKind = "parallel"
	KindDelay     NodeKind = "delay"
)

// RunStatus enumerates a PipelineRun's lifecycle states (§3).
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunTimeout   RunStatus = "timeout"
)

// Terminal reports whether status is one of the write-once terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunTimeout:
		return true
	default:
		return false
	}
}

// NodeRunStatus enumerates a NodeRun's lifecycle states (§3).
type NodeRunStatus string

const (
	NodeRunPending   NodeRunStatus = "pending"
	NodeRunRunning   NodeRunStatus = "running"
	NodeRunCompleted NodeRunStatus = "completed"
	NodeRunFailed    NodeRunStatus = "failed"
	NodeRunSkipped   NodeRunStatus = "skipped"
	NodeRunCancelled NodeRunStatus = "cancelled"
)

// Node is a vertex with kind-specific configuration (§3).
type Node struct {
	ID     string                 `json:"id" validate:"required"`
	Kind   NodeKind               `json:"kind" validate:"required,oneof=trigger agent condition action parallel delay"`
	Config map[string]interface{} `json:"config"`
}

// Edge is a directed dependency between two node ids (§3). Condition is
// accepted but ignored by this core — reserved for a future expression
// language per spec §1's Non-goals.
type Edge struct {
	ID        string `json:"id"`
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// PipelineDefinition is immutable for the duration of any run built on it
// (§3).
type PipelineDefinition struct {
	ID                string        `json:"id"`
	Nodes             []Node        `json:"nodes" validate:"required,min=1,dive"`
	Edges             []Edge        `json:"edges" validate:"dive"`
	Timeout           time.Duration `json:"timeout" validate:"gte=0"`
	MaxRetriesPerNode int           `json:"max_retries_per_node" validate:"gte=0"`
	RetryBackoffBase  time.Duration `json:"retry_backoff_base" validate:"gte=0"`
	RetryBackoffMax   time.Duration `json:"retry_backoff_max" validate:"gte=0"`
}

// toDAG converts to the graph-algorithm shape dag.Validate/TopologicalOrder
// operate on.
func (d *PipelineDefinition) toDAG() ([]dag.Node, []dag.Edge) {
	nodes := make([]dag.Node, len(d.Nodes))
	for i, n := range d.Nodes {
		nodes[i] = dag.Node{ID: n.ID, Kind: string(n.Kind)}
	}
	edges := make([]dag.Edge, len(d.Edges))
	for i, e := range d.Edges {
		edges[i] = dag.Edge{ID: e.ID, From: e.From, To: e.To}
	}
	return nodes, edges
}

// NodeByID returns the node with the given id, or false if none exists.
func (d *PipelineDefinition) NodeByID(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Predecessors returns the ids of nodes with an edge into id.
func (d *PipelineDefinition) Predecessors(id string) []string {
	var out []string
	for _, e := range d.Edges {
		if e.To == id {
			out = append(out, e.From)
		}
	}
	return out
}

// Successors returns the ids of nodes with an edge out of id.
func (d *PipelineDefinition) Successors(id string) []string {
	var out []string
	for _, e := range d.Edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}

// PipelineRun is one execution instance of a PipelineDefinition (§3).
type PipelineRun struct {
	ID          string                 `json:"id"`
	PipelineID  string                 `json:"pipeline_id"`
	Status      RunStatus              `json:"status"`
	TriggerData map[string]interface{} `json:"trigger_data"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CurrentNode string                 `json:"current_node,omitempty"`
}

// NodeRun is one attempt-series for one node in one run (§3).
type NodeRun struct {
	RunID         string                 `json:"run_id"`
	NodeID        string                 `json:"node_id"`
	Kind          NodeKind               `json:"kind"`
	Status        NodeRunStatus          `json:"status"`
	InputSummary  map[string]interface{} `json:"input_summary,omitempty"`
	OutputSummary map[string]interface{} `json:"output_summary,omitempty"`
	Error         string                 `json:"error,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	DurationMS    int64                  `json:"duration_ms"`
}
