package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gradingco/gradingd/pkg/aggregate"
	"github.com/gradingco/gradingd/pkg/batch"
	"github.com/gradingco/gradingd/pkg/graph"
	"github.com/gradingco/gradingd/pkg/merge"
	"github.com/gradingco/gradingd/pkg/models"
	"github.com/gradingco/gradingd/pkg/rubric"
	"github.com/gradingco/gradingd/pkg/segment"
	"github.com/gradingco/gradingd/pkg/worker"
)

// gradeBatchTarget is the fan-out target name GRADE's dispatcher node sends
// to; it is not itself a models.Stage, matching the design note that a
// Send's target is an opaque string, not necessarily a graph stage.
const gradeBatchTarget = "grade_batch"

// preprocess is the PREPROCESS step of the spec's intake -> preprocess ->
// rubric_parse pipeline. Direct OCR is explicitly out of scope (spec §1
// Non-goals), so preprocessing here is the identity transform: pages are
// handed to the vision LLM as-is. The step still exists as a named seam so
// normalization (orientation, compression) can land here later without
// touching any node downstream of it.
func preprocess(images [][]byte) [][]byte {
	out := make([][]byte, len(images))
	copy(out, images)
	return out
}

func cloneRubric(r *models.ParsedRubric) *models.ParsedRubric {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return r
	}
	var clone models.ParsedRubric
	if err := json.Unmarshal(data, &clone); err != nil {
		return r
	}
	return &clone
}

// rubricParseNode drives RubricParser (spec §4.3). It always produces a
// usable ParsedRubric, synthesizing a fallback on exhausted retries rather
// than failing the node.
func (o *Orchestrator) rubricParseNode(ctx context.Context, state *models.GradingState) (graph.Update, []graph.Send, error) {
	parser := rubric.NewParser(o.deps.LLMClient, state.Config.MaxRetries, state.Config.FallbackRubricConfidence)

	parsed, warning := parser.Parse(ctx, rubric.ParseInput{
		Images:             state.RubricFiles,
		RawText:            state.RubricText,
		ExpectedStudents:   state.Config.ExpectedStudents,
		ExpectedTotalScore: state.Config.ExpectedTotalScore,
	}, o.now())

	return func(s *models.GradingState) {
		s.Rubric = parsed
		if warning != nil {
			s.AppendError(warning)
		}
	}, nil, nil
}

// rubricReviewRouter picks "gate" or "skip" after PARSE_RUBRIC. Routers must
// be pure (spec §4.1): it only reads state.Config, never mutates it.
func rubricReviewRouter(state *models.GradingState) string {
	if state.Config.ReviewEnabled() {
		return "gate"
	}
	return "skip"
}

// resultsReviewRouter picks "gate" or "skip" after AGGREGATE. A low
// confidence StudentSegmenter split also forces the gate (spec §4.4), unless
// grading_mode=assist overrides it unconditionally (spec §4.9).
func resultsReviewRouter(state *models.GradingState) string {
	if state.Config.IsAssistMode() {
		return "skip"
	}
	if state.Config.ReviewEnabled() || state.NeedsConfirmation {
		return "gate"
	}
	return "skip"
}

func passthroughNode(context.Context, *models.GradingState) (graph.Update, []graph.Send, error) {
	return nil, nil, nil
}

// reviewGateNode implements the "return PAUSE + persist state" contract
// (spec §4.9, §9). Because GraphRuntime discards a node's returned Update
// whenever it also returns ErrPause, the gate mutates state directly before
// pausing rather than returning a deferred Update.
func reviewGateNode(gate models.ReviewGate) graph.NodeFunc {
	return func(_ context.Context, state *models.GradingState) (graph.Update, []graph.Send, error) {
		state.ReviewPending = &gate
		return nil, nil, graph.ErrPause
	}
}

// segmentNode implements StudentSegmenter (spec §4.4). An explicit
// student_mapping takes precedence over both boundaries and heuristics,
// since it names students outright rather than just splitting pages.
func (o *Orchestrator) segmentNode(_ context.Context, state *models.GradingState) (graph.Update, []graph.Send, error) {
	if len(state.Config.StudentMapping) > 0 {
		boundaries := boundariesFromMapping(state.Config.StudentMapping)
		return func(s *models.GradingState) {
			s.StudentBoundaries = boundaries
			s.NeedsConfirmation = false
		}, nil, nil
	}

	result, err := segment.Segment(segment.Input{
		PageCount:          len(state.ProcessedImages),
		ExplicitPageBreaks: state.Config.StudentBoundaries,
		ExpectedStudents:   state.Config.ExpectedStudents,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("segment: %w", err)
	}

	warning := (*models.GradingError)(nil)
	if result.NeedsConfirmation {
		warning = models.NewGradingError(models.ErrorKindBoundaryAmbiguous, models.StageSegment,
			"student boundaries inferred heuristically with low confidence", o.now())
	}

	return func(s *models.GradingState) {
		s.StudentBoundaries = result.Boundaries
		s.NeedsConfirmation = result.NeedsConfirmation
		if warning != nil {
			s.AppendError(warning)
		}
	}, nil, nil
}

func boundariesFromMapping(mapping []models.StudentMapping) []models.StudentBoundary {
	out := make([]models.StudentBoundary, len(mapping))
	for i, m := range mapping {
		id := m.StudentKey
		if id == "" {
			id = m.StudentID
		}
		out[i] = models.StudentBoundary{StudentID: id, StartPage: m.StartIndex, EndPage: m.EndIndex}
	}
	return out
}

// planBatchesNode implements BatchPlanner (spec §4.5).
func (o *Orchestrator) planBatchesNode(_ context.Context, state *models.GradingState) (graph.Update, []graph.Send, error) {
	planner := batch.NewPlanner(o.deps.Estimator)
	batches, err := planner.Plan(state.StudentBoundaries, state.Rubric, state.Config.MaxTokensPerBatch)
	if err != nil {
		return nil, nil, fmt.Errorf("plan_batches: %w", err)
	}
	return func(s *models.GradingState) { s.Batches = batches }, nil, nil
}

// gradeTask is the fan-out TaskState for one dispatched Batch: a deep copy
// of the rubric and the batch's own page bytes, so no GradingWorker ever
// aliases a shared mutable object with a sibling running concurrently
// (spec §3 ownership rule).
type gradeTask struct {
	Batch  models.Batch
	Rubric *models.ParsedRubric
	Pages  []worker.PageInput
	Retries int
}

// gradeDispatchNode implements the GRADE node's Send fan-out (spec §4.1,
// §4.6): one Send per Batch, each carrying its own rubric deep copy and
// page bytes.
func (o *Orchestrator) gradeDispatchNode(_ context.Context, state *models.GradingState) (graph.Update, []graph.Send, error) {
	sends := make([]graph.Send, 0, len(state.Batches))
	for _, b := range state.Batches {
		pages := make([]worker.PageInput, 0, len(b.PageNumbers))
		for _, idx := range b.PageNumbers {
			var img []byte
			if idx >= 0 && idx < len(state.ProcessedImages) {
				img = state.ProcessedImages[idx]
			}
			pages = append(pages, worker.PageInput{PageIndex: idx, Image: img})
		}
		sends = append(sends, graph.Send{
			Target:  gradeBatchTarget,
			LocalID: b.BatchID,
			TaskState: gradeTask{
				Batch:   b,
				Rubric:  cloneRubric(state.Rubric),
				Pages:   pages,
				Retries: state.Config.MaxRetries,
			},
		})
	}
	return nil, sends, nil
}

// gradeBatchFanOut implements one GradingWorker invocation (spec §4.6). It
// must only read the shared state (for the worker's immutable config) and
// never write to it directly — GraphRuntime applies its returned Update
// under a single-writer collector after every sibling completes, so
// GradingWorker instances truly run concurrently without synchronization.
func (o *Orchestrator) gradeBatchFanOut(ctx context.Context, _ *models.GradingState, taskState any) (graph.Update, error) {
	task, ok := taskState.(gradeTask)
	if !ok {
		return nil, fmt.Errorf("grade_batch: unexpected task state type %T", taskState)
	}

	w := worker.New(o.deps.LLMClient, task.Retries)
	results := w.GradeBatch(ctx, task.Batch, task.Rubric, task.Pages, o.now)
	now := o.now()

	return func(s *models.GradingState) {
		s.PageResults = append(s.PageResults, results...)
		for _, pr := range results {
			for _, q := range pr.QuestionDetails {
				if !q.SchemaViolation {
					continue
				}
				msg := fmt.Sprintf("question %s scored above max_score and was clamped", q.QuestionID)
				s.AppendError(models.NewGradingError(models.ErrorKindSchemaViolation, models.StageGrade, msg, now).WithPageIndex(pr.PageIndex))
			}
		}
	}, nil
}

// mergeNode implements CrossPageMerger (spec §4.7), grouping PageResults by
// student and folding any question reported on more than one page.
func (o *Orchestrator) mergeNode(_ context.Context, state *models.GradingState) (graph.Update, []graph.Send, error) {
	byStudent := make(map[string][]models.PageResult)
	var order []string
	for _, pr := range state.PageResults {
		if _, seen := byStudent[pr.StudentID]; !seen {
			order = append(order, pr.StudentID)
		}
		byStudent[pr.StudentID] = append(byStudent[pr.StudentID], pr)
	}
	sort.Strings(order)

	var pending []models.MergedStudentInput
	var crossPage []models.MergedQuestion
	for _, studentID := range order {
		pages := byStudent[studentID]
		sort.Slice(pages, func(i, j int) bool { return pages[i].PageIndex < pages[j].PageIndex })
		result := merge.Merge(pages)

		confidence := 1.0
		for _, q := range result.CrossPageQuestions {
			crossPage = append(crossPage, q)
			if q.Confidence < confidence {
				confidence = q.Confidence
			}
		}
		pending = append(pending, models.MergedStudentInput{
			StudentID:       studentID,
			QuestionResults: result.QuestionResults,
			MergeConfidence: confidence,
		})
	}

	return func(s *models.GradingState) {
		s.PendingAggregation = pending
		s.CrossPageQuestions = crossPage
	}, nil, nil
}

// aggregateNode implements ResultAggregator (spec §4.8).
func (o *Orchestrator) aggregateNode(_ context.Context, state *models.GradingState) (graph.Update, []graph.Send, error) {
	boundaryByStudent := make(map[string]models.StudentBoundary, len(state.StudentBoundaries))
	for _, b := range state.StudentBoundaries {
		boundaryByStudent[b.StudentID] = b
	}

	inputs := make([]aggregate.StudentInput, 0, len(state.PendingAggregation))
	for _, p := range state.PendingAggregation {
		inputs = append(inputs, aggregate.StudentInput{
			Boundary:        boundaryByStudent[p.StudentID],
			QuestionResults: p.QuestionResults,
			MergeConfidence: p.MergeConfidence,
		})
	}

	results := aggregate.Aggregate(inputs, state.Rubric)

	var totalScore, maxTotalScore float64
	for _, r := range results {
		totalScore += r.TotalScore
		maxTotalScore += r.MaxTotalScore
	}

	return func(s *models.GradingState) {
		s.StudentResults = results
		s.TotalScore = totalScore
		s.MaxTotalScore = maxTotalScore
		s.PendingAggregation = nil
		s.Progress = 1.0
	}, nil, nil
}
