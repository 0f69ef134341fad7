package scheduler

import (
	"context"
	"time"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/pipeline"
	"github.com/alkimya/orchestrator-core/resilience"
	"github.com/google/uuid"
)

// PipelineAdapter implements PipelineRunner by driving a real
// pipeline.Executor through the shared pipeline.RunManager, so
// execute_pipeline actions share the exact same run lifecycle, retry, and
// persistence semantics as any other pipeline trigger (§4.G).
type PipelineAdapter struct {
	Manager   *pipeline.RunManager
	Breakers  *resilience.Registry
	Store     pipeline.Store
	Sink      pipeline.EventSink
	Logger    core.Logger
	Dispatch  pipeline.DispatchContext
	Telemetry core.Telemetry
}

// RunPipeline starts def under a fresh run id, blocks until it reaches a
// terminal state, and returns the finished run.
func (a *PipelineAdapter) RunPipeline(ctx context.Context, def *pipeline.PipelineDefinition, triggerData map[string]interface{}, timeout time.Duration) (*pipeline.PipelineRun, error) {
	run := &pipeline.PipelineRun{
		ID:          uuid.NewString(),
		PipelineID:  def.ID,
		Status:      pipeline.RunPending,
		TriggerData: triggerData,
		StartedAt:   time.Now(),
	}

	exec := pipeline.NewExecutor(def, run, a.Breakers, a.Store, a.Sink, a.Logger, a.Dispatch)
	if a.Telemetry != nil {
		exec.Telemetry = a.Telemetry
	}
	a.Manager.Start(ctx, run.ID, exec, timeout)
	a.Manager.Wait(run.ID)

	return run, nil
}
