package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/telemetry"
)

// DispatchContext carries the external capability ports and per-run
// context a node handler needs (§4.D).
type DispatchContext struct {
	Context       context.Context
	RunID         string
	TriggerData   map[string]interface{}
	AgentRegistry AgentRegistry
	Notifier      Notifier
	HTTPCaller    HTTPCaller
}

// HandlerFunc is the uniform node-handler signature: given a node and the
// mapping of predecessor-id to predecessor-output, produce an output
// mapping or a classified error.
type HandlerFunc func(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error)

// handlers is the kind → HandlerFunc table (§9 "Dynamic dispatch via
// string tables... kept, closed over typed handler functions").
var handlers = map[NodeKind]HandlerFunc{
	KindTrigger:   dispatchTrigger,
	KindAgent:     dispatchAgent,
	KindCondition: dispatchCondition,
	KindAction:    dispatchAction,
	KindParallel:  dispatchParallel,
	KindDelay:     dispatchDelay,
}

// Dispatch routes a node to its kind handler. Handlers classify their own
// failures as core.ErrNodeConfigInvalid-derived (not retried) or
// infrastructure/transient failures (retried); Dispatch itself does not
// reclassify.
func Dispatch(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error) {
	handler, ok := handlers[node.Kind]
	if !ok {
		return nil, fmt.Errorf("node %q: kind %q: %w", node.ID, node.Kind, core.ErrUnknownNodeKind)
	}
	return handler(node, inputs, dc)
}

func dispatchTrigger(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error) {
	if len(inputs) == 0 {
		return dc.TriggerData, nil
	}
	return inputs, nil
}

func dispatchAgent(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error) {
	agentID, _ := node.Config["agent_id"].(string)
	task, _ := node.Config["task"].(string)

	var contextParts []string
	for _, id := range sortedKeys(inputs) {
		contextParts = append(contextParts, fmt.Sprintf("%s: %v", id, inputs[id]))
	}
	formattedTask := task
	if len(contextParts) > 0 {
		formattedTask = task + "\n\n" + strings.Join(contextParts, "\n")
	}

	registry := dc.AgentRegistry
	if registry == nil {
		registry = NoopAgentRegistry{}
	}

	output, err := registry.ProcessAsync(dc.Context, agentID, formattedTask)
	if err != nil {
		return nil, fmt.Errorf("node %q: agent %q: %w", node.ID, agentID, errAsExecution(err))
	}
	return output, nil
}

func dispatchCondition(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error) {
	predicate, _ := node.Config["condition"].(string)
	result, err := evaluateCondition(predicate, inputs)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", node.ID, err)
	}
	return map[string]interface{}{"result": result}, nil
}

// evaluateCondition implements the restricted predicate grammar (§4.D):
// literal true/false, or input.<key> checked for truthiness. Anything
// else is a NodeConfigError — this restriction is a security invariant,
// not a convenience.
func evaluateCondition(predicate string, inputs map[string]interface{}) (bool, error) {
	trimmed := strings.TrimSpace(predicate)
	switch trimmed {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	if strings.HasPrefix(trimmed, "input.") {
		key := strings.TrimPrefix(trimmed, "input.")
		if key == "" {
			return false, fmt.Errorf("empty input key in condition %q: %w", predicate, core.ErrNodeConfigInvalid)
		}
		value, ok := inputs[key]
		if !ok {
			return false, nil
		}
		return truthy(value), nil
	}

	return false, fmt.Errorf("condition %q is not in the accepted grammar: %w", predicate, core.ErrNodeConfigInvalid)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func dispatchAction(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error) {
	actionType, _ := node.Config["action_type"].(string)

	switch actionType {
	case "notification":
		return dispatchNotificationAction(node, dc)
	case "call_api":
		return dispatchCallAPIAction(node, dc)
	case "run_task", "execute_pipeline":
		// These sub-handlers belong to the Action Dispatcher (§4.G), not
		// the Node Dispatcher; a pipeline action node referencing them
		// would re-enter pipeline execution, which is disallowed below.
		return nil, fmt.Errorf("node %q: action_type %q is not a pipeline action sub-handler: %w", node.ID, actionType, core.ErrNodeConfigInvalid)
	default:
		return nil, fmt.Errorf("node %q: unknown action_type %q: %w", node.ID, actionType, core.ErrNodeConfigInvalid)
	}
}

func dispatchNotificationAction(node Node, dc DispatchContext) (map[string]interface{}, error) {
	channel, _ := node.Config["channel"].(string)
	body, _ := node.Config["body"].(string)
	recipients := toStringSlice(node.Config["recipients"])

	notifier := dc.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if err := notifier.Send(dc.Context, channel, recipients, body); err != nil {
		return nil, fmt.Errorf("node %q: notification: %w", node.ID, errAsExecution(err))
	}
	return map[string]interface{}{"sent": true, "channel": channel}, nil
}

func dispatchCallAPIAction(node Node, dc DispatchContext) (map[string]interface{}, error) {
	method, _ := node.Config["method"].(string)
	if method == "" {
		method = "GET"
	}
	url, _ := node.Config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("node %q: call_api requires url: %w", node.ID, core.ErrNodeConfigInvalid)
	}
	headers := toStringMap(node.Config["headers"])
	var body []byte
	if b, ok := node.Config["body"].(string); ok {
		body = []byte(b)
	}
	timeout := 30 * time.Second
	if v, ok := node.Config["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	telemetry.SetSpanAttributes(dc.Context,
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)

	caller := dc.HTTPCaller
	if caller == nil {
		caller = NewDefaultHTTPCaller()
	}
	resp, err := caller.Call(dc.Context, method, url, headers, body, timeout)
	if err != nil {
		telemetry.RecordSpanError(dc.Context, err)
		return nil, fmt.Errorf("node %q: call_api: %w", node.ID, errAsExecution(err))
	}
	defer resp.Body.Close()
	telemetry.AddSpanEvent(dc.Context, "call_api_completed", attribute.Int("http.status_code", resp.StatusCode))
	return map[string]interface{}{"status": resp.StatusCode}, nil
}

func dispatchParallel(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error) {
	return inputs, nil
}

func dispatchDelay(node Node, inputs map[string]interface{}, dc DispatchContext) (map[string]interface{}, error) {
	seconds, _ := node.Config["seconds"].(float64)
	duration := time.Duration(seconds * float64(time.Second))

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-dc.Context.Done():
		return nil, fmt.Errorf("node %q: delay: %w", node.ID, core.ErrContextCanceled)
	case <-timer.C:
		return map[string]interface{}{"delayed_seconds": seconds}, nil
	}
}

// errAsExecution wraps a transport/handler failure as a NodeExecutionError
// (core.ErrNodeExecutionFailed), eligible for retry (§4.D).
func errAsExecution(err error) error {
	return fmt.Errorf("%v: %w", err, core.ErrNodeExecutionFailed)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toStringMap(v interface{}) map[string]string {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		switch t := val.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return out
}
