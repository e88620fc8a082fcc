package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradingco/gradingd/pkg/llm"
	"github.com/gradingco/gradingd/pkg/models"
)

func noSleep(context.Context, time.Duration) {}

func fixedNow() time.Time { return time.Unix(0, 0) }

func TestWorker_GradesPageSuccessfully(t *testing.T) {
	stub := llm.NewStubClient()
	stub.AddRule(llm.StubRule{Responses: []any{
		&llm.CompletionResponse{Text: `{"questions": [{"question_id": "1", "score": 8, "feedback": "good"}]}`},
	}})

	w := New(stub, 2)
	w.sleep = noSleep

	rubricData := &models.ParsedRubric{Questions: []models.QuestionRubric{{QuestionID: "1", MaxPoints: 10}}}
	results := w.GradeBatch(context.Background(), models.Batch{StudentID: "S1"}, rubricData,
		[]PageInput{{PageIndex: 0, Image: []byte("page")}}, fixedNow)

	require.Len(t, results, 1)
	assert.Equal(t, models.PageStatusCompleted, results[0].Status)
	require.Len(t, results[0].QuestionDetails, 1)
	assert.Equal(t, 8.0, results[0].QuestionDetails[0].Score)
	assert.Equal(t, 8.0, results[0].Score)
	assert.Equal(t, 10.0, results[0].MaxScore)
	assert.Equal(t, 1, results[0].AgentSkillCalls)
	assert.Equal(t, 1.0, results[0].Confidence)
	assert.Equal(t, []int{0}, results[0].QuestionDetails[0].PageIndices)
}

func TestWorker_ClampsOvershootAndNegativeScores(t *testing.T) {
	stub := llm.NewStubClient()
	stub.AddRule(llm.StubRule{Responses: []any{
		&llm.CompletionResponse{Text: `{"questions": [{"question_id": "1", "score": 99}, {"question_id": "2", "score": -5}]}`},
	}})

	w := New(stub, 2)
	w.sleep = noSleep

	rubricData := &models.ParsedRubric{Questions: []models.QuestionRubric{
		{QuestionID: "1", MaxPoints: 10},
		{QuestionID: "2", MaxPoints: 10},
	}}
	results := w.GradeBatch(context.Background(), models.Batch{StudentID: "S1"}, rubricData,
		[]PageInput{{PageIndex: 0, Image: []byte("page")}}, fixedNow)

	require.Len(t, results[0].QuestionDetails, 2)
	assert.Equal(t, 10.0, results[0].QuestionDetails[0].Score)
	assert.Contains(t, results[0].QuestionDetails[0].Feedback, maxScoreOvershootWarning)
	assert.Equal(t, 0.0, results[0].QuestionDetails[1].Score)
}

func TestWorker_UnknownQuestionUsesFallbackRubric(t *testing.T) {
	stub := llm.NewStubClient()
	stub.AddRule(llm.StubRule{Responses: []any{
		&llm.CompletionResponse{Text: `{"questions": [{"question_id": "99", "score": 5}]}`},
	}})

	w := New(stub, 2)
	w.sleep = noSleep

	results := w.GradeBatch(context.Background(), models.Batch{StudentID: "S1"}, &models.ParsedRubric{},
		[]PageInput{{PageIndex: 0, Image: []byte("page")}}, fixedNow)

	require.Len(t, results[0].QuestionDetails, 1)
	assert.Equal(t, []string{"default"}, results[0].QuestionDetails[0].RubricRefs)
	assert.Equal(t, 0.3, results[0].Confidence)
}

func TestWorker_RetriesTransientFailureThenSucceeds(t *testing.T) {
	stub := llm.NewStubClient()
	stub.AddRule(llm.StubRule{Responses: []any{
		&llm.StubFailure{Err: llm.ErrTransient},
		&llm.CompletionResponse{Text: `{"questions": [{"question_id": "1", "score": 10}]}`},
	}})

	w := New(stub, 2)
	w.sleep = noSleep

	rubricData := &models.ParsedRubric{Questions: []models.QuestionRubric{{QuestionID: "1", MaxPoints: 10}}}
	results := w.GradeBatch(context.Background(), models.Batch{StudentID: "S1"}, rubricData,
		[]PageInput{{PageIndex: 0, Image: []byte("page")}}, fixedNow)

	require.Len(t, results, 1)
	assert.Equal(t, models.PageStatusCompleted, results[0].Status)
	assert.Equal(t, 2, results[0].AttemptCount)
}

func TestWorker_ExhaustsRetriesAndReportsFatalFailed(t *testing.T) {
	stub := llm.NewStubClient()
	stub.AddRule(llm.StubRule{Responses: []any{&llm.StubFailure{Err: llm.ErrTransient}}})

	w := New(stub, 1) // 1 retry => 2 attempts total
	w.sleep = noSleep

	results := w.GradeBatch(context.Background(), models.Batch{StudentID: "S1"}, &models.ParsedRubric{},
		[]PageInput{{PageIndex: 0, Image: []byte("page")}}, fixedNow)

	require.Len(t, results, 1)
	assert.Equal(t, models.PageStatusFatalFailed, results[0].Status)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, models.ErrorKindLLMTransient, results[0].Error.Kind)
	assert.Equal(t, 2, results[0].AttemptCount)
}

func TestWorker_CancelledContextSkipsRemainingPages(t *testing.T) {
	stub := llm.NewStubClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(stub, 2)
	w.sleep = noSleep

	results := w.GradeBatch(ctx, models.Batch{StudentID: "S1"}, &models.ParsedRubric{},
		[]PageInput{{PageIndex: 0, Image: []byte("page")}}, fixedNow)

	require.Len(t, results, 1)
	assert.Equal(t, models.PageStatusFatalFailed, results[0].Status)
	assert.Equal(t, models.ErrorKindCancelled, results[0].Error.Kind)
}
