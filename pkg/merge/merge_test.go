package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradingco/gradingd/pkg/models"
)

func TestMerge_SinglePageQuestionPassesThroughUnchanged(t *testing.T) {
	pages := []models.PageResult{
		{
			PageIndex: 0,
			Status:    models.PageStatusCompleted,
			Confidence: 1.0,
			QuestionDetails: []models.QuestionResult{
				{QuestionID: "1", Score: 8, MaxScore: 10, PageIndices: []int{0}},
			},
		},
	}

	result := Merge(pages)

	require.Len(t, result.QuestionResults, 1)
	assert.False(t, result.QuestionResults[0].IsCrossPage)
	assert.Empty(t, result.CrossPageQuestions)
}

func TestMerge_CrossPageQuestionSumsScoresCappedAtMax(t *testing.T) {
	pages := []models.PageResult{
		{
			PageIndex:  2,
			Status:     models.PageStatusCompleted,
			Confidence: 0.9,
			QuestionDetails: []models.QuestionResult{
				{QuestionID: "5", Score: 5, MaxScore: 10, Feedback: "part one", PageIndices: []int{2}},
			},
		},
		{
			PageIndex:  3,
			Status:     models.PageStatusCompleted,
			Confidence: 1.0,
			QuestionDetails: []models.QuestionResult{
				{QuestionID: "5", Score: 4, MaxScore: 10, Feedback: "part two", PageIndices: []int{3}},
			},
		},
	}

	result := Merge(pages)

	require.Len(t, result.QuestionResults, 1)
	q := result.QuestionResults[0]
	assert.True(t, q.IsCrossPage)
	assert.Equal(t, 9.0, q.Score)
	assert.Equal(t, 10.0, q.MaxScore)
	assert.Equal(t, []int{2, 3}, q.PageIndices)
	assert.Equal(t, "part one part two", q.Feedback)

	require.Len(t, result.CrossPageQuestions, 1)
	assert.InDelta(t, 0.81, result.CrossPageQuestions[0].Confidence, 1e-9)
}

func TestMerge_CrossPageScoreNeverExceedsMaxScore(t *testing.T) {
	pages := []models.PageResult{
		{
			PageIndex: 0, Status: models.PageStatusCompleted, Confidence: 1.0,
			QuestionDetails: []models.QuestionResult{{QuestionID: "1", Score: 8, MaxScore: 10}},
		},
		{
			PageIndex: 1, Status: models.PageStatusCompleted, Confidence: 1.0,
			QuestionDetails: []models.QuestionResult{{QuestionID: "1", Score: 8, MaxScore: 10}},
		},
	}

	result := Merge(pages)
	require.Len(t, result.QuestionResults, 1)
	assert.LessOrEqual(t, result.QuestionResults[0].Score, result.QuestionResults[0].MaxScore)
}

func TestMerge_ScoringPointResultsTakeMaxAwardedPerPoint(t *testing.T) {
	pages := []models.PageResult{
		{
			PageIndex: 0, Status: models.PageStatusCompleted, Confidence: 1.0,
			QuestionDetails: []models.QuestionResult{{
				QuestionID: "1", Score: 4, MaxScore: 10,
				ScoringPointResults: []models.ScoringPointResult{{PointID: "a", Awarded: 2}, {PointID: "b", Awarded: 1}},
			}},
		},
		{
			PageIndex: 1, Status: models.PageStatusCompleted, Confidence: 1.0,
			QuestionDetails: []models.QuestionResult{{
				QuestionID: "1", Score: 5, MaxScore: 10,
				ScoringPointResults: []models.ScoringPointResult{{PointID: "a", Awarded: 1}, {PointID: "b", Awarded: 3}},
			}},
		},
	}

	result := Merge(pages)
	require.Len(t, result.QuestionResults, 1)
	points := map[string]float64{}
	for _, p := range result.QuestionResults[0].ScoringPointResults {
		points[p.PointID] = p.Awarded
	}
	assert.Equal(t, 2.0, points["a"])
	assert.Equal(t, 3.0, points["b"])
}

func TestMerge_SkipsNonCompletedPages(t *testing.T) {
	pages := []models.PageResult{
		{PageIndex: 0, Status: models.PageStatusFatalFailed, QuestionDetails: []models.QuestionResult{{QuestionID: "1", Score: 9}}},
	}

	result := Merge(pages)
	assert.Empty(t, result.QuestionResults)
	assert.Empty(t, result.CrossPageQuestions)
}
