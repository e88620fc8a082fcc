package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_IsValid(t *testing.T) {
	assert.True(t, StageParseRubric.IsValid())
	assert.True(t, StageDone.IsValid())
	assert.False(t, Stage("NOT_A_STAGE").IsValid())
}

func TestStage_IsTerminal(t *testing.T) {
	assert.True(t, StageDone.IsTerminal())
	assert.True(t, StageFailed.IsTerminal())
	assert.False(t, StageGrade.IsTerminal())
}

func TestStudentBoundary_PageCount(t *testing.T) {
	b := StudentBoundary{StudentID: "s1", StartPage: 3, EndPage: 5}
	assert.Equal(t, 3, b.PageCount())

	invalid := StudentBoundary{StudentID: "s2", StartPage: 5, EndPage: 3}
	assert.Equal(t, 0, invalid.PageCount())
}

func TestStudentBoundary_Contains(t *testing.T) {
	b := StudentBoundary{StartPage: 3, EndPage: 5}
	assert.True(t, b.Contains(3))
	assert.True(t, b.Contains(4))
	assert.True(t, b.Contains(5))
	assert.False(t, b.Contains(2))
	assert.False(t, b.Contains(6))
}

func TestParsedRubric_QuestionByID(t *testing.T) {
	r := ParsedRubric{Questions: []QuestionRubric{
		{QuestionID: "q1", MaxPoints: 10},
		{QuestionID: "q2", MaxPoints: 5},
	}}

	q, ok := r.QuestionByID("q2")
	require.True(t, ok)
	assert.Equal(t, 5.0, q.MaxPoints)

	_, ok = r.QuestionByID("missing")
	assert.False(t, ok)
}

func TestQuestionRubric_TotalScoringPoints(t *testing.T) {
	q := QuestionRubric{
		ScoringPoints: []ScoringPoint{
			{ID: "a", Points: 2},
			{ID: "b", Points: 3.5},
		},
	}
	assert.Equal(t, 5.5, q.TotalScoringPoints())
}

func TestGradingError_Error(t *testing.T) {
	err := NewGradingError(ErrorKindLLMRateLimited, StageGrade, "rate limited", time.Unix(0, 0))
	assert.Equal(t, "LLM_RATE_LIMITED at GRADE: rate limited", err.Error())
	assert.True(t, err.Retryable)
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, ErrorKindLLMTransient.Retryable())
	assert.True(t, ErrorKindLLMRateLimited.Retryable())
	assert.False(t, ErrorKindParseFailure.Retryable())
	assert.False(t, ErrorKindInternal.Retryable())
}

func TestErrorKind_IsValid(t *testing.T) {
	assert.True(t, ErrorKindSchemaViolation.IsValid())
	assert.False(t, ErrorKind("NOT_A_KIND").IsValid())
}

func TestGradingState_AllPagesTerminal(t *testing.T) {
	s := NewGradingState("run-1", nil, time.Unix(0, 0))
	assert.False(t, s.AllPagesTerminal(), "no pages yet should not be considered terminal")

	s.PageResults = []PageResult{
		{PageIndex: 1, Status: PageStatusCompleted},
		{PageIndex: 2, Status: PageStatusInFlight},
	}
	assert.False(t, s.AllPagesTerminal())

	s.PageResults[1].Status = PageStatusFatalFailed
	assert.True(t, s.AllPagesTerminal())
}

func TestGradingState_PageResultsForStudent(t *testing.T) {
	s := NewGradingState("run-1", nil, time.Unix(0, 0))
	s.PageResults = []PageResult{
		{PageIndex: 1, StudentID: "s1"},
		{PageIndex: 2, StudentID: "s2"},
		{PageIndex: 3, StudentID: "s1"},
	}
	got := s.PageResultsForStudent("s1")
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].PageIndex)
	assert.Equal(t, 3, got[1].PageIndex)
}

func TestGradingState_AppendError(t *testing.T) {
	s := NewGradingState("run-1", nil, time.Unix(0, 0))
	s.AppendError(NewGradingError(ErrorKindLLMTransient, StageGrade, "deadline exceeded", time.Unix(1, 0)))
	s.AppendError(NewGradingError(ErrorKindParseFailure, StageParseRubric, "bad json", time.Unix(2, 0)).WithPageIndex(2))

	require.Len(t, s.Errors, 2)
	assert.Equal(t, ErrorKindLLMTransient, s.Errors[0].Kind)
	assert.Equal(t, ErrorKindParseFailure, s.Errors[1].Kind)
	require.NotNil(t, s.Errors[1].PageIndex)
	assert.Equal(t, 2, *s.Errors[1].PageIndex)
}
