package dag

import (
	"errors"
	"testing"

	"github.com/alkimya/orchestrator-core/core"
)

func linearPipeline() ([]Node, []Edge) {
	nodes := []Node{
		{ID: "a", Kind: "trigger"},
		{ID: "b", Kind: "agent"},
		{ID: "c", Kind: "action"},
	}
	edges := []Edge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "b", To: "c"},
	}
	return nodes, edges
}

func TestValidateEmptyPipeline(t *testing.T) {
	result := Validate(nil, nil)
	if result.OK() {
		t.Fatal("expected empty pipeline to fail validation")
	}
	if !errors.Is(result.Errors[0], core.ErrEmptyPipeline) {
		t.Errorf("Errors[0] = %v, want ErrEmptyPipeline", result.Errors[0])
	}
}

func TestValidateUnknownKind(t *testing.T) {
	nodes := []Node{{ID: "a", Kind: "bogus"}}
	result := Validate(nodes, nil)
	if result.OK() {
		t.Fatal("expected unknown kind to fail validation")
	}
	if !errors.Is(result.Errors[0], core.ErrUnknownNodeKind) {
		t.Errorf("Errors[0] = %v, want ErrUnknownNodeKind", result.Errors[0])
	}
}

func TestValidateDanglingEdge(t *testing.T) {
	nodes := []Node{{ID: "a", Kind: "trigger"}}
	edges := []Edge{{ID: "e1", From: "a", To: "ghost"}}
	result := Validate(nodes, edges)
	if result.OK() {
		t.Fatal("expected dangling edge to fail validation")
	}
	if !errors.Is(result.Errors[0], core.ErrDanglingEdge) {
		t.Errorf("Errors[0] = %v, want ErrDanglingEdge", result.Errors[0])
	}
}

func TestValidateCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: "trigger"},
		{ID: "b", Kind: "agent"},
		{ID: "c", Kind: "agent"},
	}
	edges := []Edge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "b", To: "c"},
		{ID: "e3", From: "c", To: "a"},
	}
	result := Validate(nodes, edges)
	if result.OK() {
		t.Fatal("expected cycle to fail validation")
	}
	if !errors.Is(result.Errors[0], core.ErrCyclicPipeline) {
		t.Errorf("Errors[0] = %v, want ErrCyclicPipeline", result.Errors[0])
	}
}

func TestValidateOrphanWarnedNotRejected(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: "trigger"},
		{ID: "standalone", Kind: "trigger"},
	}
	result := Validate(nodes, nil)
	if !result.OK() {
		t.Fatalf("expected orphan nodes to be warned not rejected, got errors: %v", result.Errors)
	}
	if len(result.Warnings) != 2 {
		t.Errorf("Warnings = %v, want one per orphan node", result.Warnings)
	}
}

func TestValidateValidPipeline(t *testing.T) {
	nodes, edges := linearPipeline()
	result := Validate(nodes, edges)
	if !result.OK() {
		t.Fatalf("expected valid pipeline, got errors: %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings for a fully connected pipeline, got %v", result.Warnings)
	}
}

func TestTopologicalOrderLinear(t *testing.T) {
	nodes, edges := linearPipeline()
	order, err := TopologicalOrder(nodes, edges)
	if err != nil {
		t.Fatalf("TopologicalOrder() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	if !equal(order, want) {
		t.Errorf("TopologicalOrder() = %v, want %v", order, want)
	}
}

func TestTopologicalOrderDeterministicTieBreak(t *testing.T) {
	// b and c both depend only on a, and nothing depends on either; the
	// result must consistently prefer lower node ids among ready nodes.
	nodes := []Node{
		{ID: "a", Kind: "trigger"},
		{ID: "c", Kind: "agent"},
		{ID: "b", Kind: "agent"},
	}
	edges := []Edge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "a", To: "c"},
	}
	for i := 0; i < 5; i++ {
		order, err := TopologicalOrder(nodes, edges)
		if err != nil {
			t.Fatalf("TopologicalOrder() error = %v", err)
		}
		want := []string{"a", "b", "c"}
		if !equal(order, want) {
			t.Fatalf("TopologicalOrder() = %v, want %v (deterministic)", order, want)
		}
	}
}

func TestTopologicalOrderRejectsCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: "trigger"},
		{ID: "b", Kind: "agent"},
	}
	edges := []Edge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "b", To: "a"},
	}
	_, err := TopologicalOrder(nodes, edges)
	if !errors.Is(err, core.ErrCyclicPipeline) {
		t.Errorf("TopologicalOrder() error = %v, want ErrCyclicPipeline", err)
	}
}

func TestExecutionLevelsDiamond(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: "trigger"},
		{ID: "b", Kind: "agent"},
		{ID: "c", Kind: "agent"},
		{ID: "d", Kind: "action"},
	}
	edges := []Edge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "a", To: "c"},
		{ID: "e3", From: "b", To: "d"},
		{ID: "e4", From: "c", To: "d"},
	}
	levels, err := ExecutionLevels(nodes, edges)
	if err != nil {
		t.Fatalf("ExecutionLevels() error = %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("ExecutionLevels() = %v, want 3 levels", levels)
	}
	if !equal(levels[0], []string{"a"}) {
		t.Errorf("levels[0] = %v, want [a]", levels[0])
	}
	if !equal(levels[1], []string{"b", "c"}) {
		t.Errorf("levels[1] = %v, want [b c]", levels[1])
	}
	if !equal(levels[2], []string{"d"}) {
		t.Errorf("levels[2] = %v, want [d]", levels[2])
	}
}

func TestExecutionLevelsRejectsCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: "trigger"},
		{ID: "b", Kind: "agent"},
	}
	edges := []Edge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "b", To: "a"},
	}
	_, err := ExecutionLevels(nodes, edges)
	if !errors.Is(err, core.ErrCyclicPipeline) {
		t.Errorf("ExecutionLevels() error = %v, want ErrCyclicPipeline", err)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
