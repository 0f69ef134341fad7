package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/pipeline"
)

// ActionResult is the Action Dispatcher's uniform return shape (§4.G).
type ActionResult struct {
	Status  string
	Summary string
	Error   string
}

// PipelineLoader resolves a stored pipeline definition by id, for the
// execute_pipeline action kind.
type PipelineLoader interface {
	LoadDefinition(ctx context.Context, pipelineID string) (*pipeline.PipelineDefinition, error)
}

// PipelineRunner executes a loaded definition to completion under a
// timeout and reports the resulting run, for the execute_pipeline action
// kind. Concrete construction of the Executor (breakers, store, sink,
// dispatch ports) is the caller's responsibility; scheduler only needs the
// synchronous outcome.
type PipelineRunner interface {
	RunPipeline(ctx context.Context, def *pipeline.PipelineDefinition, triggerData map[string]interface{}, timeout time.Duration) (*pipeline.PipelineRun, error)
}

// ActionDispatchContext carries the ports an action handler may need,
// mirroring pipeline.DispatchContext's shape for the node dispatcher.
type ActionDispatchContext struct {
	AgentRegistry  pipeline.AgentRegistry
	Notifier       pipeline.Notifier
	HTTPCaller     pipeline.HTTPCaller
	PipelineLoader PipelineLoader
	PipelineRunner PipelineRunner
}

// HandlerFunc is the Action Dispatcher's per-kind signature (§4.G).
type HandlerFunc func(ctx context.Context, action *ScheduledAction, dc ActionDispatchContext) ActionResult

var handlers = map[ActionKind]HandlerFunc{
	ActionRunTask:          dispatchRunTask,
	ActionExecutePipeline:  dispatchExecutePipeline,
	ActionSendNotification: dispatchSendNotification,
	ActionCallAPI:          dispatchCallAPI,
}

// Dispatch routes action to its kind handler. Unknown kinds are reported
// as a failed result rather than crashing the Scheduler Loop (§4.G).
func Dispatch(ctx context.Context, action *ScheduledAction, dc ActionDispatchContext) ActionResult {
	handler, ok := handlers[action.Kind]
	if !ok {
		return ActionResult{Status: "failed", Error: core.ErrUnknownActionKind.Error()}
	}
	return handler(ctx, action, dc)
}

func dispatchRunTask(ctx context.Context, action *ScheduledAction, dc ActionDispatchContext) ActionResult {
	goal, _ := action.Config["goal"].(string)
	registry := dc.AgentRegistry
	if registry == nil {
		registry = pipeline.NoopAgentRegistry{}
	}
	out, err := registry.ProcessAsync(ctx, action.AgentID, goal)
	if err != nil {
		return ActionResult{Status: "failed", Error: err.Error()}
	}
	return ActionResult{Status: "completed", Summary: fmt.Sprintf("%v", out)}
}

func dispatchExecutePipeline(ctx context.Context, action *ScheduledAction, dc ActionDispatchContext) ActionResult {
	pipelineID, _ := action.Config["pipeline_id"].(string)
	if pipelineID == "" {
		return ActionResult{Status: "failed", Error: "config.pipeline_id is required"}
	}
	if dc.PipelineLoader == nil || dc.PipelineRunner == nil {
		return ActionResult{Status: "failed", Error: "pipeline execution is not wired"}
	}

	def, err := dc.PipelineLoader.LoadDefinition(ctx, pipelineID)
	if err != nil {
		return ActionResult{Status: "failed", Error: err.Error()}
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = def.Timeout
	}

	triggerData, _ := action.Config["trigger_data"].(map[string]interface{})
	run, err := dc.PipelineRunner.RunPipeline(ctx, def, triggerData, timeout)
	if err != nil {
		return ActionResult{Status: "failed", Error: err.Error()}
	}

	status := "completed"
	if run.Status != pipeline.RunCompleted {
		status = "failed"
	}
	summary := run.Error
	if summary == "" {
		summary = "ok"
	}
	return ActionResult{Status: status, Summary: summary}
}

func dispatchSendNotification(ctx context.Context, action *ScheduledAction, dc ActionDispatchContext) ActionResult {
	if dc.Notifier == nil {
		return ActionResult{Status: "failed", Error: "notifier is not wired"}
	}
	channel, _ := action.Config["channel"].(string)
	body, _ := action.Config["body"].(string)
	var recipients []string
	if raw, ok := action.Config["recipients"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				recipients = append(recipients, s)
			}
		}
	}
	if err := dc.Notifier.Send(ctx, channel, recipients, body); err != nil {
		return ActionResult{Status: "failed", Error: err.Error()}
	}
	return ActionResult{Status: "completed", Summary: "sent"}
}

func dispatchCallAPI(ctx context.Context, action *ScheduledAction, dc ActionDispatchContext) ActionResult {
	caller := dc.HTTPCaller
	if caller == nil {
		caller = pipeline.NewDefaultHTTPCaller()
	}
	method, _ := action.Config["method"].(string)
	if method == "" {
		method = "GET"
	}
	url, _ := action.Config["url"].(string)
	if url == "" {
		return ActionResult{Status: "failed", Error: "config.url is required"}
	}
	headers := make(map[string]string)
	if raw, ok := action.Config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	var body []byte
	if b, ok := action.Config["body"].(string); ok {
		body = []byte(b)
	}
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	resp, err := caller.Call(ctx, method, url, headers, body, timeout)
	if err != nil {
		return ActionResult{Status: "failed", Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ActionResult{Status: "failed", Error: fmt.Sprintf("call_api: status %d", resp.StatusCode)}
	}
	return ActionResult{Status: "completed", Summary: fmt.Sprintf("status %d", resp.StatusCode)}
}
