package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/gradingco/gradingd/pkg/config"
)

// HTTPClient is a Client backed by an OpenAI-compatible chat completions
// endpoint, using go-openai for the wire format and vision image parts. The
// three supported provider types (openai, anthropic, vertexai) differ only
// in base URL and bearer token source here, since all three expose an
// OpenAI-compatible chat-completions surface; provider-specific quirks are a
// detail downstream transport layers can swap in without touching
// RubricParser or GradingWorker, which only see the Client interface.
type HTTPClient struct {
	client *openai.Client
	model  string
}

// NewHTTPClient builds a Client from a resolved provider config.
func NewHTTPClient(cfg *config.LLMProviderConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: provider %q has no base_url configured", cfg.Model)
	}

	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("llm: environment variable %q is not set", cfg.APIKeyEnv)
		}
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: 0} // caller controls deadlines via ctx

	return &HTTPClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrInvalidResponse)
	}

	return &CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// classifyOpenAIError maps go-openai's error types onto the Client
// interface's transient/rate-limited/invalid-response classification that
// GradingWorker's retry loop depends on.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &RateLimitError{Err: fmt.Errorf("%w: %s", ErrTransient, apiErr.Message)}
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: upstream status %d: %s", ErrTransient, apiErr.HTTPStatusCode, apiErr.Message)
		case apiErr.HTTPStatusCode >= 400:
			return fmt.Errorf("%w: upstream status %d: %s", ErrInvalidResponse, apiErr.HTTPStatusCode, apiErr.Message)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", ErrTransient, reqErr.Err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
}
