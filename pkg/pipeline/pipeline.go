// Package pipeline is a small named-node graph interpreter over
// PhaseState. Nodes are phase functions returning deltas; edges are
// evaluated in registration order, the first match wins. The shape it
// executes is a DAG with one self-loop on the collaboration node, so
// no general-purpose workflow machinery is involved.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jexlab/jex/pkg/models"
)

// End is the terminal pseudo-node.
const End = "end"

// Node names of the task graph. The engine itself does not interpret
// them; they are shared between the wiring and the runtime.
const (
	NodeEvaluate        = "evaluate"
	NodeGenerateInquiry = "generate_inquiry"
	NodePlanning        = "planning"
	NodeDebate          = "debate_collaborate"
	NodeReview          = "review_collaborate"
	NodeIntegrate       = "integrate"
)

// NodeFunc executes one phase against the current state and returns
// the changes to apply.
type NodeFunc func(ctx context.Context, state *models.PhaseState) (*models.PhaseDelta, error)

// Predicate gates a conditional edge.
type Predicate func(state *models.PhaseState) bool

type edge struct {
	to   string
	when Predicate
}

// RunOpts adjusts a single engine run.
type RunOpts struct {
	// StopBefore halts the run when the upcoming node matches, leaving
	// that node unexecuted. Run returns its name.
	StopBefore func(next string) bool

	// AfterNode is invoked after each node's delta has been applied.
	AfterNode func(node string, state *models.PhaseState)
}

// Engine holds the graph. Construct once, run per task; runs share no
// state beyond the registered nodes and edges.
type Engine struct {
	entry  string
	nodes  map[string]NodeFunc
	edges  map[string][]edge
	logger *slog.Logger
}

// New creates an engine whose runs start at entry.
func New(entry string) *Engine {
	return &Engine{
		entry:  entry,
		nodes:  make(map[string]NodeFunc),
		edges:  make(map[string][]edge),
		logger: slog.With("component", "pipeline"),
	}
}

// AddNode registers a node under name.
func (e *Engine) AddNode(name string, fn NodeFunc) {
	e.nodes[name] = fn
}

// AddEdge registers an unconditional edge. Registration order matters:
// edges from the same node are tried in order, so an unconditional
// edge acts as the default branch when added last.
func (e *Engine) AddEdge(from, to string) {
	e.edges[from] = append(e.edges[from], edge{to: to})
}

// AddConditionalEdge registers an edge taken only when the predicate
// holds for the state after the node ran.
func (e *Engine) AddConditionalEdge(from string, when Predicate, to string) {
	e.edges[from] = append(e.edges[from], edge{to: to, when: when})
}

// Validate checks that the entry and every edge endpoint resolve to a
// registered node, and that every node has a way out.
func (e *Engine) Validate() error {
	if _, ok := e.nodes[e.entry]; !ok {
		return fmt.Errorf("entry node %q is not registered", e.entry)
	}
	for from, edges := range e.edges {
		if _, ok := e.nodes[from]; !ok {
			return fmt.Errorf("edge source %q is not registered", from)
		}
		for _, ed := range edges {
			if ed.to == End {
				continue
			}
			if _, ok := e.nodes[ed.to]; !ok {
				return fmt.Errorf("edge %q -> %q targets an unregistered node", from, ed.to)
			}
		}
	}
	for name := range e.nodes {
		if len(e.edges[name]) == 0 {
			return fmt.Errorf("node %q has no outgoing edges", name)
		}
	}
	return nil
}

// Run executes the graph from the entry node. It returns End when the
// graph completed, or the name of the node the run stopped before.
func (e *Engine) Run(ctx context.Context, state *models.PhaseState, opts RunOpts) (string, error) {
	return e.RunFrom(ctx, e.entry, state, opts)
}

// RunFrom executes the graph starting at a specific node, applying
// each node's delta to state as it goes.
func (e *Engine) RunFrom(ctx context.Context, start string, state *models.PhaseState, opts RunOpts) (string, error) {
	current := start
	for {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		fn, ok := e.nodes[current]
		if !ok {
			return current, fmt.Errorf("unknown node %q", current)
		}

		delta, err := fn(ctx, state)
		if err != nil {
			return current, fmt.Errorf("node %s: %w", current, err)
		}
		state.Apply(delta)

		if opts.AfterNode != nil {
			opts.AfterNode(current, state)
		}

		next, err := e.next(current, state)
		if err != nil {
			return current, err
		}
		e.logger.Debug("Node executed", "task_id", state.TaskID, "node", current, "next", next)

		if next == End {
			return End, nil
		}
		if opts.StopBefore != nil && opts.StopBefore(next) {
			return next, nil
		}
		current = next
	}
}

// next picks the first matching edge out of a node.
func (e *Engine) next(from string, state *models.PhaseState) (string, error) {
	for _, ed := range e.edges[from] {
		if ed.when == nil || ed.when(state) {
			return ed.to, nil
		}
	}
	return "", fmt.Errorf("no edge matched out of node %q", from)
}
