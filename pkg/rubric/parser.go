package rubric

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/gradingco/gradingd/pkg/llm"
	"github.com/gradingco/gradingd/pkg/models"
)

// scoreTolerance is the allowed drift between TotalScore and the sum of
// QuestionRubric.MaxPoints before a rubric is marked fallback (spec §3).
const scoreTolerance = 0.5

// subPartPattern matches ids like "7.1" or "7(2)" that should never stand
// alone as a QuestionRubric — they belong inside the parent question's
// scoring_points.
var subPartPattern = regexp.MustCompile(`^(\d+)[.(]\d+\)?$`)

// Parser drives a vision LLM call to turn rubric pages into a ParsedRubric,
// with a bounded re-parse loop on semantic violations, grounded on the
// teacher's extraction-retry pattern: no backoff between attempts, because
// the failure depends on what the LLM produced, not on elapsed time.
type Parser struct {
	client             llm.Client
	maxParseRetries    int
	fallbackConfidence float64
}

// NewParser builds a Parser. maxParseRetries bounds PARSE_INVALID_JSON and
// semantic-violation retries; fallbackConfidence is the confidence assigned
// to a synthesized fallback rubric.
func NewParser(client llm.Client, maxParseRetries int, fallbackConfidence float64) *Parser {
	return &Parser{client: client, maxParseRetries: maxParseRetries, fallbackConfidence: fallbackConfidence}
}

// rawRubricResponse is the JSON shape the prompt instructs the LLM to emit.
type rawRubricResponse struct {
	Questions []rawQuestion `json:"questions"`
}

type rawQuestion struct {
	QuestionID     string           `json:"question_id"`
	MaxScore       float64          `json:"max_score"`
	Description    string           `json:"description"`
	StandardAnswer string           `json:"standard_answer"`
	ScoringPoints  []rawScoringPoint `json:"scoring_points"`
}

type rawScoringPoint struct {
	PointID     string  `json:"point_id"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	IsRequired  bool    `json:"is_required"`
}

// ParseInput bundles the rubric parser's inputs; expected fields feed the
// fallback heuristic when parsing cannot succeed at all.
type ParseInput struct {
	Images              [][]byte
	RawText             string
	ExpectedStudents    *int
	ExpectedTotalScore  *float64
}

// Parse runs the recognition prompt, validates the result, and re-parses on
// semantic violations up to maxParseRetries. It always returns a usable
// ParsedRubric — on exhaustion it synthesizes a fallback rubric rather than
// propagating an error, matching the "run continues with a degraded result"
// bias throughout this system. The returned GradingError, if non-nil, is a
// warning to append to the run's state.
func (p *Parser) Parse(ctx context.Context, input ParseInput, now time.Time) (*models.ParsedRubric, *models.GradingError) {
	var lastErr error

	for attempt := 0; attempt <= p.maxParseRetries; attempt++ {
		select {
		case <-ctx.Done():
			return p.fallback(input, now), models.NewGradingError(models.ErrorKindCancelled, models.StageParseRubric, "rubric parse cancelled", now)
		default:
		}

		resp, err := p.client.Complete(ctx, llm.CompletionRequest{
			Images: input.Images,
			Prompt: buildRecognitionPrompt(input.RawText, attempt),
		})
		if err != nil {
			lastErr = err
			continue
		}

		raw, err := decodeRubricResponse(resp.Text)
		if err != nil {
			lastErr = err
			continue
		}

		parsed := toParsedRubric(raw)
		if violation := validateSemantics(parsed); violation != "" {
			lastErr = fmt.Errorf("%w: %s", errSemanticViolation, violation)
			continue
		}

		parsed.Status = models.RubricStatusSuccess
		parsed.Confidence = 1.0
		return &parsed, nil
	}

	warning := models.NewGradingError(
		models.ErrorKindParseFailure,
		models.StageParseRubric,
		fmt.Sprintf("rubric parse exhausted %d retries, using fallback: %v", p.maxParseRetries, lastErr),
		now,
	)
	return p.fallback(input, now), warning
}

// fallback synthesizes a single-question-per-page rubric when real parsing
// cannot succeed, using expected_total_score / expected_students as the
// per-question default when both are known.
func (p *Parser) fallback(input ParseInput, _ time.Time) *models.ParsedRubric {
	pageCount := len(input.Images)
	if pageCount == 0 {
		pageCount = 1
	}

	perQuestion := 10.0
	if input.ExpectedTotalScore != nil && input.ExpectedStudents != nil && *input.ExpectedStudents > 0 {
		perQuestion = *input.ExpectedTotalScore / float64(*input.ExpectedStudents)
	}

	questions := make([]models.QuestionRubric, pageCount)
	for i := range questions {
		questions[i] = models.QuestionRubric{
			QuestionID: fmt.Sprintf("%d", i+1),
			MaxPoints:  perQuestion,
			Criteria:   "synthesized fallback rubric; rubric parsing failed",
		}
	}

	return &models.ParsedRubric{
		TotalQuestions: len(questions),
		TotalScore:     perQuestion * float64(len(questions)),
		Questions:      questions,
		Confidence:     p.fallbackConfidence,
		Status:         models.RubricStatusFallback,
	}
}

func decodeRubricResponse(text string) (*rawRubricResponse, error) {
	var raw rawRubricResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return &raw, nil
}

func toParsedRubric(raw *rawRubricResponse) models.ParsedRubric {
	questions := make([]models.QuestionRubric, 0, len(raw.Questions))
	var totalScore float64
	for _, rq := range raw.Questions {
		points := make([]models.ScoringPoint, 0, len(rq.ScoringPoints))
		for _, rp := range rq.ScoringPoints {
			points = append(points, models.ScoringPoint{
				ID:          rp.PointID,
				Description: rp.Description,
				Points:      rp.Score,
				IsRequired:  rp.IsRequired,
			})
		}
		questions = append(questions, models.QuestionRubric{
			QuestionID:     rq.QuestionID,
			MaxPoints:      rq.MaxScore,
			Description:    rq.Description,
			ScoringPoints:  points,
			StandardAnswer: rq.StandardAnswer,
		})
		totalScore += rq.MaxScore
	}
	return models.ParsedRubric{
		TotalQuestions: len(questions),
		TotalScore:     totalScore,
		Questions:      questions,
	}
}

// validateSemantics returns a non-empty description of the first violation
// found, or "" if the rubric is internally consistent.
func validateSemantics(r models.ParsedRubric) string {
	if r.HasDuplicateQuestionIDs() {
		return "duplicate question_id in parsed rubric"
	}
	if math.Abs(r.SumMaxScores()-r.TotalScore) > scoreTolerance {
		return fmt.Sprintf("sum of max_points (%.2f) diverges from total_score (%.2f) beyond tolerance", r.SumMaxScores(), r.TotalScore)
	}
	for _, q := range r.Questions {
		if subPartPattern.MatchString(q.QuestionID) {
			parentID := subPartPattern.FindStringSubmatch(q.QuestionID)[1]
			if _, ok := r.QuestionByID(parentID); !ok {
				return fmt.Sprintf("question_id %q looks like a sub-part of %q, which is missing", q.QuestionID, parentID)
			}
		}
		if len(q.ScoringPoints) > 0 && math.Abs(q.TotalScoringPoints()-q.MaxPoints) > scoreTolerance {
			return fmt.Sprintf("question %q scoring points sum to %.2f, diverging from max_points (%.2f) beyond tolerance",
				q.QuestionID, q.TotalScoringPoints(), q.MaxPoints)
		}
	}
	return ""
}

func buildRecognitionPrompt(rawText string, attempt int) string {
	base := `You are grading an exam rubric. Extract structured scoring criteria as JSON:
{"questions": [{"question_id": "7", "max_score": 15, "description": "...", "standard_answer": "...",
"scoring_points": [{"point_id": "7.1", "description": "...", "score": 5, "is_required": true}]}]}

Rules:
1. Only main question numbers (e.g. "7", not "7.1") are counted as question_id.
2. Sub-parts of a question become entries in that question's scoring_points, never their own question.
3. Output valid JSON matching the shape above exactly, nothing else.`

	if rawText != "" {
		base += "\n\nRubric text:\n" + rawText
	}
	if attempt > 0 {
		base += "\n\nYour previous attempt violated rule 1 or 2, or was not valid JSON. Re-read the rules and try again."
	}
	return base
}
