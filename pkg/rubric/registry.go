// Package rubric turns raw rubric pages into a structured ParsedRubric and
// exposes constant-time lookup by question id. RubricParser drives the LLM;
// RubricRegistry is the in-memory index a GradingWorker rebuilds from its own
// deep-copied rubric view, never shared across goroutines.
package rubric

import "github.com/gradingco/gradingd/pkg/models"

// Registry is an in-memory index of QuestionRubric by question id, giving
// GradingWorker the "Agent Skill" lookup described in the glossary: a
// bounded, logged call with a graceful default when the id is unknown.
type Registry struct {
	byID               map[string]models.QuestionRubric
	fallbackConfidence float64
}

// LookupResult is what get_rubric_for_question returns: either the exact
// rubric or a synthesized default, with the confidence the caller should
// attach to anything scored against it.
type LookupResult struct {
	Rubric     models.QuestionRubric
	IsDefault  bool
	Confidence float64
}

// NewRegistry builds a Registry from a parsed rubric's questions. Each
// worker constructs its own Registry from its deep-copied ParsedRubric — the
// Registry never outlives a single batch and is never shared.
func NewRegistry(rubric *models.ParsedRubric, fallbackConfidence float64) *Registry {
	r := &Registry{byID: make(map[string]models.QuestionRubric), fallbackConfidence: fallbackConfidence}
	if rubric != nil {
		for _, q := range rubric.Questions {
			r.byID[q.QuestionID] = q
		}
	}
	return r
}

// GetRubricForQuestion is the Agent Skill call: it returns the exact rubric
// when known (confidence 1.0), or a default rubric with the registry's
// fallback confidence when the id was never seen in the parsed rubric.
func (r *Registry) GetRubricForQuestion(questionID string) LookupResult {
	if q, ok := r.byID[questionID]; ok {
		return LookupResult{Rubric: q, IsDefault: false, Confidence: 1.0}
	}
	return LookupResult{
		Rubric:     defaultQuestionRubric(questionID),
		IsDefault:  true,
		Confidence: r.fallbackConfidence,
	}
}

// Len reports how many questions are indexed.
func (r *Registry) Len() int {
	return len(r.byID)
}

func defaultQuestionRubric(questionID string) models.QuestionRubric {
	return models.QuestionRubric{
		QuestionID: questionID,
		MaxPoints:  10,
		Criteria:   "unknown question id; graded against a default rubric",
	}
}
