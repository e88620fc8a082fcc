// Package orchestrator exposes the public API a transport (HTTP handler,
// queue.RunExecutor) drives to run the grading graph end to end: starting a
// run, resuming one from checkpoint, submitting a review decision, and
// subscribing to its events, grounded on the teacher's SessionProcessor/
// AlertOrchestrator split between public lifecycle methods and an internal
// node-by-node drive loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gradingco/gradingd/pkg/batch"
	"github.com/gradingco/gradingd/pkg/checkpoint"
	"github.com/gradingco/gradingd/pkg/config"
	"github.com/gradingco/gradingd/pkg/events"
	"github.com/gradingco/gradingd/pkg/graph"
	"github.com/gradingco/gradingd/pkg/llm"
	"github.com/gradingco/gradingd/pkg/models"
	"github.com/gradingco/gradingd/pkg/queue"
)

// ErrRunAborted is returned by a run loop observing ctx cancellation before
// the graph reached a terminal stage.
var ErrRunAborted = errors.New("orchestrator: run aborted")

// ErrGateNotPending is returned by SubmitReview when the named run has no
// review awaiting a decision, or is awaiting a different gate.
var ErrGateNotPending = errors.New("orchestrator: no matching review pending")

// Deps bundles the orchestrator's external collaborators, all narrow
// interfaces so tests substitute in-memory/stub implementations for every
// one of them (spec §7 testability requirement).
type Deps struct {
	Checkpointer checkpoint.Checkpointer
	Events       *events.Bus
	LLMClient    llm.Client
	Estimator    batch.TokenEstimator
	Defaults     *config.Defaults
	Now          func() time.Time
}

// Orchestrator drives GradingState through the grading graph, checkpointing
// after every node and publishing lifecycle events, and implements
// queue.RunExecutor so a distributed worker pool can dispatch it.
type Orchestrator struct {
	deps  Deps
	graph *graph.Graph

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Orchestrator and its fixed graph topology.
func New(deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	o := &Orchestrator{deps: deps, cancels: make(map[string]context.CancelFunc)}
	o.graph = o.buildGraph()
	return o
}

func (o *Orchestrator) now() time.Time { return o.deps.Now() }

// Start implements submit_run (spec §6.1): it creates a new GradingState at
// PARSE_RUBRIC, checkpoints it, and returns immediately. The run itself
// executes asynchronously, driven by Execute (directly, or via queue.WorkerPool).
func (o *Orchestrator) Start(ctx context.Context, input StartInput) (*StartResult, error) {
	runID := uuid.NewString()
	now := o.now()

	opts := resolveOptions(input, o.deps.Defaults)
	state := models.NewGradingState(runID, opts, now)
	state.Images = input.Files
	state.RubricFiles = input.Rubrics
	state.RubricText = input.RubricText
	state.ProcessedImages = preprocess(input.Files)

	if _, err := o.deps.Checkpointer.Save(ctx, runID, "", models.StageParseRubric, 0, state); err != nil {
		return nil, fmt.Errorf("orchestrator: start checkpoint failed: %w", err)
	}

	return &StartResult{RunID: runID, Status: "queued", TotalPages: len(input.Files)}, nil
}

// Execute implements queue.RunExecutor: it loads runID's latest checkpoint
// and drives the graph until it pauses, completes, or fails. It is safe to
// call repeatedly for the same run (e.g. after a review decision resumes it).
func (o *Orchestrator) Execute(ctx context.Context, runID string) *queue.ExecutionResult {
	state, nextStage, err := o.deps.Checkpointer.LoadLatest(ctx, runID)
	if err != nil {
		return &queue.ExecutionResult{Status: "failed", Error: err}
	}
	state.CurrentStage = nextStage

	return o.runLoop(ctx, state)
}

// Resume reloads a previously paused or interrupted run and continues it
// from its last checkpoint (spec §9 crash recovery).
func (o *Orchestrator) Resume(ctx context.Context, runID string) *queue.ExecutionResult {
	return o.Execute(ctx, runID)
}

// Abort cancels a running run's context, if it is currently executing in
// this process. Returns false if the run was not found active here.
func (o *Orchestrator) Abort(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// SubmitReview implements submit_review (spec §6.3): it validates the
// decision matches the pending gate, applies any patch, clears
// ReviewPending, advances CurrentStage past the gate, checkpoints, and
// resumes execution synchronously.
func (o *Orchestrator) SubmitReview(ctx context.Context, runID string, decision ReviewDecision) (*queue.ExecutionResult, error) {
	state, _, err := o.deps.Checkpointer.LoadLatest(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: submit_review load failed: %w", err)
	}
	if state.ReviewPending == nil || *state.ReviewPending != decision.Gate {
		return nil, ErrGateNotPending
	}

	switch decision.Gate {
	case models.ReviewGateRubric:
		if decision.RubricPatch != nil {
			state.Rubric = decision.RubricPatch
		}
		state.CurrentStage = models.StageSegment
	case models.ReviewGateResults:
		if decision.StudentResultsPatch != nil {
			state.StudentResults = decision.StudentResultsPatch
		}
		state.CurrentStage = models.StageDone
	default:
		return nil, fmt.Errorf("orchestrator: unknown review gate %q", decision.Gate)
	}

	state.ReviewPending = nil
	state.UpdatedAt = o.now()

	reviewedStage := models.Stage(string(decision.Gate) + "_REVIEWED")
	if _, err := o.deps.Checkpointer.Save(ctx, runID, reviewedStage, state.CurrentStage, state.AttemptNumber, state); err != nil {
		return nil, fmt.Errorf("orchestrator: submit_review checkpoint failed: %w", err)
	}

	return o.runLoop(ctx, state), nil
}

// Subscribe attaches to runID's event stream (spec §6.4).
func (o *Orchestrator) Subscribe(runID string) *events.Subscription {
	return o.deps.Events.Subscribe(events.RunChannel(runID))
}

// GetState returns runID's latest checkpointed state (spec §6.2).
func (o *Orchestrator) GetState(ctx context.Context, runID string) (*models.GradingState, error) {
	state, _, err := o.deps.Checkpointer.LoadLatest(ctx, runID)
	return state, err
}

// ListActive lists runs matching filter (spec §6.2).
func (o *Orchestrator) ListActive(ctx context.Context, filter checkpoint.ListFilter) ([]checkpoint.RunSummary, error) {
	return o.deps.Checkpointer.ListActive(ctx, filter)
}

// runLoop drives the graph node by node, checkpointing and publishing
// events after every step, until the run pauses at a review gate, reaches a
// terminal stage, or fails. It owns the run's cancellation registration so
// Abort can interrupt it mid-flight.
func (o *Orchestrator) runLoop(parent context.Context, state *models.GradingState) *queue.ExecutionResult {
	runCtx, cancel := context.WithTimeout(parent, o.runTimeout(state))
	defer cancel()

	o.mu.Lock()
	o.cancels[state.RunID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, state.RunID)
		o.mu.Unlock()
	}()

	for {
		select {
		case <-runCtx.Done():
			o.publish(state.RunID, events.EventTypeRunFailed, map[string]any{"error": runCtx.Err().Error()})
			return &queue.ExecutionResult{Status: "cancelled", Error: ErrRunAborted}
		default:
		}

		if state.CurrentStage.IsTerminal() {
			return o.finish(state)
		}

		completedStage := state.CurrentStage
		state.AttemptNumber++
		o.publish(state.RunID, events.EventTypeNodeStarted, map[string]any{"node": string(completedStage), "attempt_number": state.AttemptNumber})

		nodeCtx, nodeCancel := context.WithTimeout(runCtx, o.nodeTimeout(state))
		step, err := o.graph.RunNode(nodeCtx, state)
		nodeCancel()

		if err != nil {
			o.publish(state.RunID, events.EventTypeNodeFailed, map[string]any{"node": string(completedStage), "error": err.Error()})
			state.CurrentStage = models.StageFailed
			state.AppendError(models.NewGradingError(models.ErrorKindInternal, completedStage, err.Error(), o.now()))
			o.checkpoint(runCtx, state, completedStage, models.StageFailed)
			return o.finish(state)
		}

		state.UpdatedAt = o.now()

		if step.Paused {
			o.checkpoint(runCtx, state, completedStage, completedStage)
			if state.ReviewPending != nil {
				o.publish(state.RunID, events.EventTypeReviewRequired, map[string]any{"gate": string(*state.ReviewPending)})
			}
			return &queue.ExecutionResult{Status: "paused"}
		}

		o.publish(state.RunID, events.EventTypeNodeCompleted, map[string]any{"node": string(completedStage), "attempt_number": state.AttemptNumber})
		if completedStage == models.StageGrade {
			o.publish(state.RunID, events.EventTypeProgress, map[string]any{"completed_batches": len(state.Batches), "total_batches": len(state.Batches)})
		}

		o.checkpoint(runCtx, state, completedStage, step.NextStage)
		state.CurrentStage = step.NextStage
	}
}

func (o *Orchestrator) finish(state *models.GradingState) *queue.ExecutionResult {
	if state.CurrentStage == models.StageFailed {
		o.publish(state.RunID, events.EventTypeRunFailed, map[string]any{})
		return &queue.ExecutionResult{Status: "failed"}
	}
	for _, r := range state.StudentResults {
		o.publish(state.RunID, events.EventTypePartialResult, map[string]any{"student_id": r.StudentID})
	}
	o.publish(state.RunID, events.EventTypeRunCompleted, map[string]any{"total_score": state.TotalScore, "max_total_score": state.MaxTotalScore})
	return &queue.ExecutionResult{Status: "completed"}
}

func (o *Orchestrator) checkpoint(ctx context.Context, state *models.GradingState, completed, next models.Stage) {
	if _, err := o.deps.Checkpointer.Save(ctx, state.RunID, completed, next, state.AttemptNumber, state); err != nil {
		slog.Warn("checkpoint save failed, run continues best-effort", "run_id", state.RunID, "node", completed, "error", err)
		state.AppendError(models.NewGradingError(models.ErrorKindCheckpointFailure, completed, err.Error(), o.now()))
	}
}

func (o *Orchestrator) publish(runID, eventType string, payload map[string]any) {
	o.deps.Events.Publish(events.Event{Type: eventType, RunID: runID, Timestamp: o.now(), Payload: payload})
}

func (o *Orchestrator) runTimeout(state *models.GradingState) time.Duration {
	if state.Config != nil && state.Config.RunTimeoutSeconds > 0 {
		return time.Duration(state.Config.RunTimeoutSeconds * float64(time.Second))
	}
	return o.deps.Defaults.RunTimeout()
}

func (o *Orchestrator) nodeTimeout(state *models.GradingState) time.Duration {
	if state.Config != nil && state.Config.NodeTimeoutSeconds > 0 {
		return time.Duration(state.Config.NodeTimeoutSeconds * float64(time.Second))
	}
	return o.deps.Defaults.NodeTimeout()
}
