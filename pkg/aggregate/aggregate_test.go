package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradingco/gradingd/pkg/models"
)

func TestAggregate_ComputesTotalsAndOrdersByStartPage(t *testing.T) {
	inputs := []StudentInput{
		{
			Boundary: models.StudentBoundary{StudentID: "s2", StartPage: 3, EndPage: 4},
			QuestionResults: []models.QuestionResult{
				{QuestionID: "1", Score: 5, MaxScore: 10},
			},
		},
		{
			Boundary: models.StudentBoundary{StudentID: "s1", StartPage: 1, EndPage: 2},
			QuestionResults: []models.QuestionResult{
				{QuestionID: "1", Score: 9, MaxScore: 10},
				{QuestionID: "2", Score: 8, MaxScore: 10},
			},
		},
	}

	results := Aggregate(inputs, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "s1", results[0].StudentID)
	assert.Equal(t, 17.0, results[0].TotalScore)
	assert.Equal(t, 20.0, results[0].MaxTotalScore)
	assert.Equal(t, "s2", results[1].StudentID)
	assert.Equal(t, 5.0, results[1].TotalScore)
}

func TestAggregate_FlagsReviewWhenDistinctQuestionsExceedRubric(t *testing.T) {
	rubric := &models.ParsedRubric{TotalQuestions: 1, TotalScore: 10}
	inputs := []StudentInput{
		{
			Boundary: models.StudentBoundary{StudentID: "s1", StartPage: 1, EndPage: 1},
			QuestionResults: []models.QuestionResult{
				{QuestionID: "1", Score: 5, MaxScore: 5},
				{QuestionID: "2", Score: 5, MaxScore: 5},
			},
		},
	}

	results := Aggregate(inputs, rubric)
	require.Len(t, results, 1)
	assert.True(t, results[0].NeedsReview)
}

func TestAggregate_FlagsReviewWhenCrossPageScoreExceedsMax(t *testing.T) {
	inputs := []StudentInput{
		{
			Boundary: models.StudentBoundary{StudentID: "s1", StartPage: 1, EndPage: 2},
			QuestionResults: []models.QuestionResult{
				{QuestionID: "1", Score: 11, MaxScore: 10, IsCrossPage: true, PageIndices: []int{0, 1}},
			},
		},
	}

	results := Aggregate(inputs, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].NeedsReview)
}

func TestAggregate_DefaultsMergeConfidenceToOneWhenUnset(t *testing.T) {
	inputs := []StudentInput{
		{Boundary: models.StudentBoundary{StudentID: "s1", StartPage: 1, EndPage: 1}},
	}

	results := Aggregate(inputs, nil)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].MergeConfidence)
}

func TestAggregate_NoReviewWhenRubricMatchesExactly(t *testing.T) {
	rubric := &models.ParsedRubric{
		TotalQuestions: 2,
		Questions: []models.QuestionRubric{
			{QuestionID: "1", MaxPoints: 10},
			{QuestionID: "2", MaxPoints: 10},
		},
	}
	inputs := []StudentInput{
		{
			Boundary: models.StudentBoundary{StudentID: "s1", StartPage: 1, EndPage: 1},
			QuestionResults: []models.QuestionResult{
				{QuestionID: "1", Score: 9, MaxScore: 10},
				{QuestionID: "2", Score: 8, MaxScore: 10},
			},
		},
	}

	results := Aggregate(inputs, rubric)
	require.Len(t, results, 1)
	assert.False(t, results[0].NeedsReview)
}
