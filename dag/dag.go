// Package dag implements the DAG Validator (§4.C): structural validation of
// a pipeline's nodes and edges, and the topological ordering the Pipeline
// Executor drives a run through.
//
// The package operates on the minimal Node/Edge shape it needs for graph
// algorithms; the pipeline package's richer PipelineDefinition converts to
// this shape before calling Validate or TopologicalOrder.
package dag

import (
	"fmt"
	"sort"

	"github.com/alkimya/orchestrator-core/core"
)

// Node is the graph-algorithm view of a pipeline node: just enough to
// validate structure and compute order.
type Node struct {
	ID   string
	Kind string
}

// Edge is a directed dependency between two node ids.
type Edge struct {
	ID   string
	From string
	To   string
}

// ValidKinds is the set of node kinds the validator accepts (§3 Node).
var ValidKinds = map[string]bool{
	"trigger":   true,
	"agent":     true,
	"condition": true,
	"action":    true,
	"parallel":  true,
	"delay":     true,
}

// Result carries the outcome of Validate: hard errors that reject the
// definition, and warnings that don't (orphan nodes are legitimate
// standalone triggers per §4.C's orphan policy).
type Result struct {
	Errors   []error
	Warnings []string
}

// OK reports whether the definition passed validation.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Validate checks nodes and edges for structural soundness, in the order
// §4.C specifies: empty node set, unknown node kinds, dangling edges,
// cycles. Each category is checked in full before the next only when the
// prior category found nothing — a dangling edge makes cycle detection
// meaningless, so Validate skips it in that case.
func Validate(nodes []Node, edges []Edge) Result {
	var result Result

	if len(nodes) == 0 {
		result.Errors = append(result.Errors, core.ErrEmptyPipeline)
		return result
	}

	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	for _, n := range nodes {
		if !ValidKinds[n.Kind] {
			result.Errors = append(result.Errors, fmt.Errorf("node %q: kind %q: %w", n.ID, n.Kind, core.ErrUnknownNodeKind))
		}
	}
	if len(result.Errors) > 0 {
		return result
	}

	for _, e := range edges {
		if _, ok := byID[e.From]; !ok {
			result.Errors = append(result.Errors, fmt.Errorf("edge %q: from %q: %w", e.ID, e.From, core.ErrDanglingEdge))
		}
		if _, ok := byID[e.To]; !ok {
			result.Errors = append(result.Errors, fmt.Errorf("edge %q: to %q: %w", e.ID, e.To, core.ErrDanglingEdge))
		}
	}
	if len(result.Errors) > 0 {
		return result
	}

	if cycle := findCycle(nodes, edges); cycle != nil {
		result.Errors = append(result.Errors, fmt.Errorf("cycle: %v: %w", cycle, core.ErrCyclicPipeline))
		return result
	}

	for _, id := range orphans(nodes, edges) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("node %q has no incoming or outgoing edges", id))
	}

	return result
}

func orphans(nodes []Node, edges []Edge) []string {
	degree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		degree[n.ID] = 0
	}
	for _, e := range edges {
		degree[e.From]++
		degree[e.To]++
	}
	var out []string
	for _, n := range nodes {
		if degree[n.ID] == 0 {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// findCycle runs a DFS over the successor graph, returning the offending
// cycle path (node ids, starting and ending at the repeated node) or nil
// if the graph is acyclic.
func findCycle(nodes []Node, edges []Edge) []string {
	successors := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		successors[n.ID] = nil
	}
	for _, e := range edges {
		successors[e.From] = append(successors[e.From], e.To)
	}
	for _, succs := range successors {
		sort.Strings(succs)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		for _, next := range successors[id] {
			switch color[next] {
			case white:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			case gray:
				cycle := append([]string{}, path...)
				cycle = append(cycle, next)
				for i, id := range cycle {
					if id == next {
						return cycle[i:]
					}
				}
				return cycle
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// TopologicalOrder returns a linear extension of the precedence relation
// using Kahn's algorithm. Ties among simultaneously-ready nodes are broken
// by node id so the result is reproducible across runs, which the default
// "static pass" execution model depends on.
//
// Callers are expected to have already run Validate; TopologicalOrder
// returns core.ErrCyclicPipeline if the graph is cyclic regardless.
func TopologicalOrder(nodes []Node, edges []Edge) ([]string, error) {
	predecessors, successors := buildAdjacency(nodes, edges)

	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = len(predecessors[n.ID])
	}

	ready := readySet(nodes, inDegree)
	order := make([]string, 0, len(nodes))

	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range successors[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, core.ErrCyclicPipeline
	}
	return order, nil
}

// ExecutionLevels groups nodes into batches whose predecessors are all
// satisfied by an earlier batch: level 0 has in-degree 0, level 1's nodes
// depend only on level-0 nodes, and so on. This is the "iterative pass"
// reserved for future parallel dispatch (§4.C); the default Executor
// consumes TopologicalOrder's flattened static pass instead.
func ExecutionLevels(nodes []Node, edges []Edge) ([][]string, error) {
	predecessors, successors := buildAdjacency(nodes, edges)

	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = len(predecessors[n.ID])
	}

	var levels [][]string
	remaining := len(nodes)

	current := readySet(nodes, inDegree)
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		remaining -= len(current)

		var next []string
		for _, id := range current {
			for _, succ := range successors[id] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		current = next
	}

	if remaining != 0 {
		return nil, core.ErrCyclicPipeline
	}
	return levels, nil
}

func buildAdjacency(nodes []Node, edges []Edge) (predecessors, successors map[string][]string) {
	predecessors = make(map[string][]string, len(nodes))
	successors = make(map[string][]string, len(nodes))
	for _, n := range nodes {
		predecessors[n.ID] = nil
		successors[n.ID] = nil
	}
	for _, e := range edges {
		predecessors[e.To] = append(predecessors[e.To], e.From)
		successors[e.From] = append(successors[e.From], e.To)
	}
	return predecessors, successors
}

func readySet(nodes []Node, inDegree map[string]int) []string {
	var ready []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	return ready
}
