package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StubClient is a deterministic Client for tests: callers register canned
// responses keyed by call index (per prompt-matching Rule) so scenario tests
// can script exact LLM behavior, including scripted transient failures that
// succeed on retry (S5).
type StubClient struct {
	mu       sync.Mutex
	rules    []StubRule
	calls    []CompletionRequest
	callSeen map[string]int
}

// StubRule matches requests whose Prompt contains Contains (empty matches
// everything) and returns Responses in order for successive matching calls;
// once exhausted, the last response repeats. An entry in Responses may be a
// *StubFailure to simulate a transient error before eventual success.
type StubRule struct {
	Contains  string
	Responses []any // *CompletionResponse or *StubFailure
}

// StubFailure scripts a failed call; Err is returned from Complete.
type StubFailure struct {
	Err error
}

// NewStubClient creates an empty stub; use AddRule to script behavior.
func NewStubClient() *StubClient {
	return &StubClient{callSeen: make(map[string]int)}
}

// AddRule registers a matching rule. Rules are evaluated in registration
// order; the first whose Contains substring appears in the prompt wins.
func (s *StubClient) AddRule(rule StubRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// Calls returns a copy of every request seen so far, for assertions on call
// count and ordering.
func (s *StubClient) Calls() []CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CompletionRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *StubClient) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)

	for _, rule := range s.rules {
		if rule.Contains != "" && !strings.Contains(req.Prompt, rule.Contains) {
			continue
		}
		idx := s.callSeen[rule.Contains]
		s.callSeen[rule.Contains] = idx + 1

		responses := rule.Responses
		if len(responses) == 0 {
			continue
		}
		if idx >= len(responses) {
			idx = len(responses) - 1
		}

		switch v := responses[idx].(type) {
		case *CompletionResponse:
			return v, nil
		case *StubFailure:
			return nil, v.Err
		default:
			return nil, fmt.Errorf("llm: stub rule has unsupported response type %T", v)
		}
	}

	return nil, fmt.Errorf("llm: stub has no rule matching prompt")
}
