package pipeline

import (
	"fmt"
	"time"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/dag"
)

// ParseDefinition converts a mapping-shaped pipeline definition (as
// persisted) into a validated PipelineDefinition, applying cfg's defaults
// for any field the raw mapping omits. This is dag.Parse from §4.C; it
// lives here because PipelineDefinition is a pipeline-package type.
//
// Reserved keys "from"/"to" on edges are read as plain map keys, so no
// host-language reserved-word handling is needed.
func ParseDefinition(raw map[string]interface{}, cfg core.PipelineConfig) (*PipelineDefinition, error) {
	def := &PipelineDefinition{
		Timeout:           cfg.DefaultTimeout,
		MaxRetriesPerNode: cfg.DefaultMaxRetries,
		RetryBackoffBase:  cfg.DefaultBackoffBase,
		RetryBackoffMax:   cfg.DefaultBackoffMax,
	}

	if id, ok := raw["id"].(string); ok {
		def.ID = id
	}
	if v, ok := raw["timeout"].(float64); ok && v > 0 {
		def.Timeout = time.Duration(v) * time.Second
	}
	if v, ok := raw["max_retries_per_node"].(float64); ok && v >= 0 {
		def.MaxRetriesPerNode = int(v)
	}
	if v, ok := raw["retry_backoff_base"].(float64); ok && v > 0 {
		def.RetryBackoffBase = time.Duration(v) * time.Second
	}
	if v, ok := raw["retry_backoff_max"].(float64); ok && v > 0 {
		def.RetryBackoffMax = time.Duration(v) * time.Second
	}

	rawNodes, _ := raw["nodes"].([]interface{})
	for _, rn := range rawNodes {
		m, ok := rn.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("node entry is not a mapping: %w", core.ErrInvalidConfiguration)
		}
		node, err := parseNode(m)
		if err != nil {
			return nil, err
		}
		def.Nodes = append(def.Nodes, node)
	}

	rawEdges, _ := raw["edges"].([]interface{})
	for _, re := range rawEdges {
		m, ok := re.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("edge entry is not a mapping: %w", core.ErrInvalidConfiguration)
		}
		edge := Edge{}
		if v, ok := m["id"].(string); ok {
			edge.ID = v
		}
		if v, ok := m["from"].(string); ok {
			edge.From = v
		}
		if v, ok := m["to"].(string); ok {
			edge.To = v
		}
		if v, ok := m["condition"].(string); ok {
			edge.Condition = v
		}
		def.Edges = append(def.Edges, edge)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func parseNode(m map[string]interface{}) (Node, error) {
	node := Node{Config: map[string]interface{}{}}
	if v, ok := m["id"].(string); ok {
		node.ID = v
	}
	if v, ok := m["kind"].(string); ok {
		node.Kind = NodeKind(v)
	}
	if cfg, ok := m["config"].(map[string]interface{}); ok {
		node.Config = cfg
	}
	return node, nil
}

// Validate runs the DAG Validator (§4.C) plus node-kind-specific config
// checks (§3's "kind-specific required config"), returning the first
// error found. Orphan-node warnings are logged by callers that care, not
// treated as failures here.
func (d *PipelineDefinition) Validate() error {
	if err := sharedValidator().Struct(d); err != nil {
		return fmt.Errorf("pipeline definition %q: %w: %v", d.ID, core.ErrInvalidConfiguration, err)
	}

	nodes, edges := d.toDAG()
	result := dag.Validate(nodes, edges)
	if !result.OK() {
		return result.Errors[0]
	}

	for _, n := range d.Nodes {
		if err := validateNodeConfig(n); err != nil {
			return err
		}
	}
	return nil
}

func validateNodeConfig(n Node) error {
	switch n.Kind {
	case KindAgent:
		if _, ok := n.Config["agent_id"].(string); !ok {
			return fmt.Errorf("node %q: agent node requires string agent_id: %w", n.ID, core.ErrNodeConfigInvalid)
		}
		if _, ok := n.Config["task"].(string); !ok {
			return fmt.Errorf("node %q: agent node requires string task: %w", n.ID, core.ErrNodeConfigInvalid)
		}
	case KindCondition:
		if _, ok := n.Config["condition"].(string); !ok {
			return fmt.Errorf("node %q: condition node requires string condition: %w", n.ID, core.ErrNodeConfigInvalid)
		}
	case KindDelay:
		switch v := n.Config["seconds"].(type) {
		case float64:
			if v < 0 {
				return fmt.Errorf("node %q: delay seconds must be non-negative: %w", n.ID, core.ErrNodeConfigInvalid)
			}
		default:
			return fmt.Errorf("node %q: delay node requires numeric seconds: %w", n.ID, core.ErrNodeConfigInvalid)
		}
	case KindAction:
		if _, ok := n.Config["action_type"].(string); !ok {
			return fmt.Errorf("node %q: action node requires string action_type: %w", n.ID, core.ErrNodeConfigInvalid)
		}
	case KindTrigger, KindParallel:
		// any config accepted
	default:
		return fmt.Errorf("node %q: kind %q: %w", n.ID, n.Kind, core.ErrUnknownNodeKind)
	}
	return nil
}

// TopologicalOrder returns the static execution order for this definition.
func (d *PipelineDefinition) TopologicalOrder() ([]string, error) {
	nodes, edges := d.toDAG()
	return dag.TopologicalOrder(nodes, edges)
}
