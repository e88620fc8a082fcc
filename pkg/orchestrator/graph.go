package orchestrator

import (
	"github.com/gradingco/gradingd/pkg/graph"
	"github.com/gradingco/gradingd/pkg/models"
)

// buildGraph wires every node and edge of the grading pipeline (spec §4.1,
// §4.9). The router at PARSE_RUBRIC and AGGREGATE bypasses its review gate
// entirely when routing to "skip" — it never passes through the gate node,
// since a gate node's only job is to pause.
func (o *Orchestrator) buildGraph() *graph.Graph {
	g := graph.New(o.deps.Defaults.MaxParallelWorkers)

	g.RegisterNode(models.StageParseRubric, o.rubricParseNode)
	g.AddConditionalEdge(models.StageParseRubric, rubricReviewRouter, map[string]models.Stage{
		"gate": models.StageReviewRubric,
		"skip": models.StageRubricGateSkip,
	})

	g.RegisterNode(models.StageReviewRubric, reviewGateNode(models.ReviewGateRubric))
	// No outgoing edge from StageReviewRubric: RunNode returns Paused=true
	// and never calls next() for a paused node, so the gate is a dead end
	// in the graph's own topology. SubmitReview resumes a paused run by
	// setting CurrentStage to StageSegment directly and re-entering the
	// loop, outside the graph.

	g.RegisterNode(models.StageRubricGateSkip, passthroughNode)
	g.AddEdge(models.StageRubricGateSkip, models.StageSegment)

	g.RegisterNode(models.StageSegment, o.segmentNode)
	g.AddEdge(models.StageSegment, models.StagePlanBatches)

	g.RegisterNode(models.StagePlanBatches, o.planBatchesNode)
	g.AddEdge(models.StagePlanBatches, models.StageGrade)

	g.RegisterNode(models.StageGrade, o.gradeDispatchNode)
	g.RegisterFanOutNode(models.Stage(gradeBatchTarget), o.gradeBatchFanOut)
	g.AddEdge(models.StageGrade, models.StageMerge)

	g.RegisterNode(models.StageMerge, o.mergeNode)
	g.AddEdge(models.StageMerge, models.StageAggregate)

	g.RegisterNode(models.StageAggregate, o.aggregateNode)
	g.AddConditionalEdge(models.StageAggregate, resultsReviewRouter, map[string]models.Stage{
		"gate": models.StageReviewResults,
		"skip": models.StageResultsGateSkip,
	})

	g.RegisterNode(models.StageReviewResults, reviewGateNode(models.ReviewGateResults))
	// Likewise a dead end; SubmitReview resumes straight to StageDone.

	g.RegisterNode(models.StageResultsGateSkip, passthroughNode)
	g.AddEdge(models.StageResultsGateSkip, models.StageDone)

	return g
}
