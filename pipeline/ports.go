package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// AgentRegistry is the external capability that resolves and invokes
// agents referenced by an `agent` node (§4.D). It is explicitly
// out-of-scope for this core (§1) — the Pipeline Executor depends only on
// this port, never on a concrete LLM/agent implementation.
type AgentRegistry interface {
	// ProcessAsync dispatches task (already formatted with predecessor
	// context) to agentID and returns its result mapping.
	ProcessAsync(ctx context.Context, agentID, task string) (map[string]interface{}, error)
}

// NoopAgentRegistry is the default AgentRegistry: absent a wired registry,
// the `agent` handler returns a simulated output so the core remains
// testable without LLM capacity (§4.D).
type NoopAgentRegistry struct{}

func (NoopAgentRegistry) ProcessAsync(ctx context.Context, agentID, task string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"result":   "<simulated>",
		"agent_id": agentID,
	}, nil
}

// Notifier is the external Notification Sender capability (§4.D, §4.G).
type Notifier interface {
	Send(ctx context.Context, channel string, recipients []string, body string) error
}

// NoopNotifier discards notifications; used when no sender is wired.
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, channel string, recipients []string, body string) error {
	return nil
}

// HTTPCaller is the external HTTP Client capability (§4.D, §4.G).
type HTTPCaller interface {
	Call(ctx context.Context, method, url string, headers map[string]string, body []byte, timeout time.Duration) (*http.Response, error)
}

// DefaultHTTPCaller issues real HTTP requests via the standard library
// client. No ecosystem HTTP client library appears anywhere in the
// example pack, so net/http is the grounded choice here.
type DefaultHTTPCaller struct {
	Client *http.Client
}

func NewDefaultHTTPCaller() *DefaultHTTPCaller {
	return &DefaultHTTPCaller{Client: &http.Client{}}
}

func (c *DefaultHTTPCaller) Call(ctx context.Context, method, url string, headers map[string]string, body []byte, timeout time.Duration) (*http.Response, error) {
	client := c.Client
	if client == nil {
		client = &http.Client{}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return client.Do(req)
}
