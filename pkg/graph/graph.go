// Package graph implements GraphRuntime: a staged directed graph over
// GradingState with conditional routing and dynamic fan-out. The topology is
// fixed and purpose-built for grading (not a general workflow engine), so
// nodes operate on the concrete GradingState type rather than a generic
// key/value state bag — state updates are applied in place by each node's
// returned Update function under the runtime's single-writer discipline,
// rather than reflected/merged generically.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gradingco/gradingd/pkg/models"
)

// ErrPause is returned by a node to signal the review-gate "return PAUSE"
// contract: the runtime stops scheduling further nodes, persists state, and
// leaves the run awaiting an external resume trigger.
var ErrPause = errors.New("graph: pause")

// GraphBuildError reports a conditional-edge (or edge) target that was never
// registered as a node, caught at build time rather than silently stalling
// at run time.
type GraphBuildError struct {
	From   string
	Target string
	Reason string
}

func (e *GraphBuildError) Error() string {
	return fmt.Sprintf("graph: build failed for edge %s -> %s: %s", e.From, e.Target, e.Reason)
}

// Update mutates state in place. Returned by a node alongside any fan-out
// Sends; nil means "no changes beyond what fan-out siblings contributed".
type Update func(state *models.GradingState)

// Send is a dynamic fan-out task: Target names the node to run, TaskState is
// an opaque per-task payload the node receives, and LocalID orders sibling
// results deterministically on merge (spec's task_state.batch_id_local).
type Send struct {
	Target    string
	TaskState any
	LocalID   string
}

// NodeFunc is one graph node: given the current state, it returns an Update
// to apply, any Sends to fan out, or an error (ErrPause to pause the run,
// anything else to fail the node).
type NodeFunc func(ctx context.Context, state *models.GradingState) (Update, []Send, error)

// FanOutNodeFunc handles one Send's TaskState and returns the Update to
// merge for that task alone.
type FanOutNodeFunc func(ctx context.Context, state *models.GradingState, taskState any) (Update, error)

// RouterFunc picks an edge key from state. Routers must be pure: they read
// state but never mutate it.
type RouterFunc func(state *models.GradingState) string

type conditionalEdge struct {
	router  RouterFunc
	mapping map[string]models.Stage
}

// Graph is a registered set of nodes and the edges between them, keyed by
// models.Stage so the runtime's notion of "current node" is exactly the
// GradingState's persisted CurrentStage.
type Graph struct {
	nodes       map[models.Stage]NodeFunc
	fanOutNodes map[models.Stage]FanOutNodeFunc
	edges       map[models.Stage]models.Stage
	conditional map[models.Stage]conditionalEdge

	maxParallelWorkers int
	built              bool
}

// New creates an empty graph. maxParallelWorkers bounds the Send fan-out
// worker pool; it defaults to 1 if non-positive.
func New(maxParallelWorkers int) *Graph {
	if maxParallelWorkers < 1 {
		maxParallelWorkers = 1
	}
	return &Graph{
		nodes:              make(map[models.Stage]NodeFunc),
		fanOutNodes:        make(map[models.Stage]FanOutNodeFunc),
		edges:              make(map[models.Stage]models.Stage),
		conditional:        make(map[models.Stage]conditionalEdge),
		maxParallelWorkers: maxParallelWorkers,
	}
}

// RegisterNode adds a node under the given stage name.
func (g *Graph) RegisterNode(stage models.Stage, fn NodeFunc) {
	g.nodes[stage] = fn
	g.built = false
}

// RegisterFanOutNode adds a node reachable only via Send (grading_batch, one
// per dispatched Batch) — it is never a direct edge target.
func (g *Graph) RegisterFanOutNode(stage models.Stage, fn FanOutNodeFunc) {
	g.fanOutNodes[stage] = fn
	g.built = false
}

// AddEdge registers an unconditional transition.
func (g *Graph) AddEdge(from, to models.Stage) {
	g.edges[from] = to
	g.built = false
}

// AddConditionalEdge registers a router at `from`; the runtime evaluates
// router(state) and follows mapping[key].
func (g *Graph) AddConditionalEdge(from models.Stage, router RouterFunc, mapping map[string]models.Stage) {
	g.conditional[from] = conditionalEdge{router: router, mapping: mapping}
	g.built = false
}

// Build validates that every edge and conditional-edge target names a
// registered node. This is the hard contract from the design notes: a graph
// that "compiles" but routes to an unregistered node must fail loudly here,
// not stall silently at run time.
func (g *Graph) Build() error {
	for from, to := range g.edges {
		if !g.hasNode(to) {
			return &GraphBuildError{From: string(from), Target: string(to), Reason: "edge target is not a registered node"}
		}
	}
	for from, ce := range g.conditional {
		for key, target := range ce.mapping {
			if !g.hasNode(target) {
				return &GraphBuildError{From: string(from), Target: fmt.Sprintf("%s (router key %q)", target, key), Reason: "conditional edge target is not a registered node"}
			}
		}
	}
	g.built = true
	return nil
}

func (g *Graph) hasNode(stage models.Stage) bool {
	if stage.IsTerminal() {
		return true
	}
	_, ok := g.nodes[stage]
	return ok
}

// next resolves the stage to run after `from`, following a conditional
// router when one is registered, else the unconditional edge.
func (g *Graph) next(from models.Stage, state *models.GradingState) (models.Stage, error) {
	if ce, ok := g.conditional[from]; ok {
		key := ce.router(state)
		target, ok := ce.mapping[key]
		if !ok {
			return "", fmt.Errorf("graph: router at %s returned unmapped key %q", from, key)
		}
		return target, nil
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	return models.StageDone, nil
}

// StepResult reports what happened after running a single node to
// completion: the resolved next stage, or a pause/failure.
type StepResult struct {
	NextStage models.Stage
	Paused    bool
}

// RunNode executes exactly one node (performing its own fan-out if it
// returns Sends) and advances state.CurrentStage to whatever comes next. It
// does not loop — Orchestrator drives the loop so it can checkpoint and
// publish events between steps.
func (g *Graph) RunNode(ctx context.Context, state *models.GradingState) (StepResult, error) {
	if !g.built {
		if err := g.Build(); err != nil {
			return StepResult{}, err
		}
	}

	stage := state.CurrentStage
	if stage.IsTerminal() {
		return StepResult{NextStage: stage}, nil
	}

	fn, ok := g.nodes[stage]
	if !ok {
		return StepResult{}, fmt.Errorf("graph: no node registered for stage %s", stage)
	}

	update, sends, err := fn(ctx, state)
	if err != nil {
		if errors.Is(err, ErrPause) {
			return StepResult{NextStage: stage, Paused: true}, nil
		}
		return StepResult{}, err
	}
	if update != nil {
		update(state)
	}

	if len(sends) > 0 {
		if err := g.runFanOut(ctx, state, sends); err != nil {
			return StepResult{}, err
		}
	}

	next, err := g.next(stage, state)
	if err != nil {
		return StepResult{}, err
	}
	state.CurrentStage = next
	return StepResult{NextStage: next}, nil
}

// runFanOut dispatches every Send to its target FanOutNodeFunc across a
// bounded worker pool, then merges results back into state in LocalID order
// — a single-writer collector, not concurrent map writes.
func (g *Graph) runFanOut(ctx context.Context, state *models.GradingState, sends []Send) error {
	type outcome struct {
		localID string
		update  Update
		err     error
	}

	tasks := make(chan Send)
	results := make(chan outcome, len(sends))

	var wg sync.WaitGroup
	workers := g.maxParallelWorkers
	if workers > len(sends) {
		workers = len(sends)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for send := range tasks {
				fn, ok := g.fanOutNodes[models.Stage(send.Target)]
				if !ok {
					results <- outcome{localID: send.LocalID, err: fmt.Errorf("graph: no fan-out node registered for target %s", send.Target)}
					continue
				}
				update, err := fn(ctx, state, send.TaskState)
				results <- outcome{localID: send.LocalID, update: update, err: err}
			}
		}()
	}

	go func() {
		for _, s := range sends {
			tasks <- s
		}
		close(tasks)
	}()

	wg.Wait()
	close(results)

	collected := make([]outcome, 0, len(sends))
	for r := range results {
		if r.err != nil {
			slog.Warn("fan-out task failed", "local_id", r.localID, "error", r.err)
			state.AppendError(models.NewGradingError(models.ErrorKindInternal, state.CurrentStage, r.err.Error(), state.UpdatedAt))
			continue
		}
		collected = append(collected, r)
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].localID < collected[j].localID })
	for _, r := range collected {
		if r.update != nil {
			r.update(state)
		}
	}

	return nil
}
