// Package scheduler implements the Action Dispatcher (§4.G) and the
// Scheduler Loop (§4.H): the continuous process that advances
// ScheduledAction rows to their next run and dispatches due ones, gated
// by the Advisory Lock Primitive against other instances.
package scheduler

import (
	"fmt"
	"time"

	"github.com/alkimya/orchestrator-core/core"
)

// ActionKind enumerates the four action kinds the Action Dispatcher maps
// (§4.G).
type ActionKind string

const (
	ActionRunTask          ActionKind = "run_task"
	ActionExecutePipeline  ActionKind = "execute_pipeline"
	ActionSendNotification ActionKind = "send_notification"
	ActionCallAPI          ActionKind = "call_api"
)

// ScheduleKind enumerates how next_run_at is recomputed after a dispatch
// (§4.H step 4).
type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleOnce     ScheduleKind = "once"
	ScheduleEvent    ScheduleKind = "event"
)

// ActionStatus enumerates a ScheduledAction's lifecycle states (§3).
type ActionStatus string

const (
	ActionStatusActive   ActionStatus = "active"
	ActionStatusPaused   ActionStatus = "paused"
	ActionStatusDisabled ActionStatus = "disabled"
	ActionStatusExpired  ActionStatus = "expired"
)

// TriggeredBy enumerates who caused a ScheduledActionRun (§3).
type TriggeredBy string

const (
	TriggeredByScheduler TriggeredBy = "scheduler"
	TriggeredByRecovery  TriggeredBy = "recovery"
	TriggeredByManual    TriggeredBy = "manual"
)

// ActionRunStatus enumerates a ScheduledActionRun's lifecycle states.
type ActionRunStatus string

const (
	ActionRunPending   ActionRunStatus = "pending"
	ActionRunRunning   ActionRunStatus = "running"
	ActionRunCompleted ActionRunStatus = "completed"
	ActionRunFailed    ActionRunStatus = "failed"
)

// ScheduledAction is a recurring or one-shot trigger (§3). Its id doubles
// as the advisory-lock resource key, so it is an integer rather than an
// opaque string like PipelineRun.ID.
type ScheduledAction struct {
	ID              int64                  `json:"id"`
	AgentID         string                 `json:"agent_id"`
	Kind            ActionKind             `json:"kind" validate:"required,oneof=run_task execute_pipeline send_notification call_api"`
	Config          map[string]interface{} `json:"config"`
	ScheduleKind    ScheduleKind           `json:"schedule_kind" validate:"required,oneof=cron interval once event"`
	CronExpression  string                 `json:"cron_expression,omitempty"`
	IntervalSeconds int64                  `json:"interval_s,omitempty" validate:"gte=0"`
	RunAt           *time.Time             `json:"run_at,omitempty"`
	EventName       string                 `json:"event_name,omitempty"`
	Status          ActionStatus           `json:"status" validate:"required,oneof=active paused disabled expired"`
	NextRunAt       *time.Time             `json:"next_run_at,omitempty"`
	Timeout         time.Duration          `json:"timeout" validate:"gte=0"`
	MaxRetries      int                    `json:"max_retries" validate:"gte=0"`
	RetryDelay      time.Duration          `json:"retry_delay" validate:"gte=0"`
	AllowConcurrent bool                   `json:"allow_concurrent"`
	ExecutionCount  int64                  `json:"execution_count"`
	LastRunStatus   string                 `json:"last_run_status,omitempty"`
}

// Validate runs the struct-tag pass (required kind/schedule_kind/status
// enums, non-negative durations) that sits under whatever higher-level
// semantic checks a caller layers on top, mirroring
// pipeline.PipelineDefinition's validator-then-graph-shape ordering.
func (a *ScheduledAction) Validate() error {
	if err := sharedValidator().Struct(a); err != nil {
		return fmt.Errorf("scheduled action %d: %w: %v", a.ID, core.ErrInvalidConfiguration, err)
	}
	return nil
}

// ScheduledActionRun is one dispatch attempt for an action (§3). The pair
// (ActionID, TriggeredAt) uniquely identifies a dispatch window; the
// recovery dedup query (§4.H) depends on this.
type ScheduledActionRun struct {
	ID          string          `json:"id"`
	ActionID    int64           `json:"action_id"`
	TriggeredAt time.Time       `json:"triggered_at"`
	TriggeredBy TriggeredBy     `json:"triggered_by"`
	Status      ActionRunStatus `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
}
