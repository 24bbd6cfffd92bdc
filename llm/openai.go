package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/brunobiangulo/akg/retry"
)

// requestTimeout bounds a single HTTP request. Kept generous for local
// providers (Ollama, LM Studio) which may load models on first request.
const requestTimeout = 120 * time.Second

// client implements Provider for every OpenAI-compatible endpoint.
type client struct {
	cfg   Config
	api   *openai.Client
	retry retry.Config
}

func newClient(cfg Config) *client {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: requestTimeout}
	return &client{
		cfg: cfg,
		api: openai.NewClientWithConfig(oc),
		retry: retry.Config{
			MaxAttempts:  4,
			InitialDelay: 2 * time.Second,
			MaxDelay:     40 * time.Second,
			Multiplier:   2,
			AddJitter:    true,
		},
	}
}

func (c *client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	body := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		r, err := c.api.CreateChatCompletion(ctx, body)
		return r, c.classify(ctx, "chat", err)
	})
	if err != nil {
		return nil, fmt.Errorf("llm chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     string(resp.Choices[0].FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (c *client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.Model),
	}
	resp, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		r, err := c.api.CreateEmbeddings(ctx, body)
		return r, c.classify(ctx, "embed", err)
	})
	if err != nil {
		return nil, fmt.Errorf("llm embed: %w", err)
	}

	// Sort by index to ensure correct ordering.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// classify marks errors that a retry cannot fix. Network errors and the
// 429/502/503/504 family are retried; every other API status is not.
func (c *client) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return retry.NonRetryable(ctx.Err())
	}
	status := statusCode(err)
	if status != 0 && !retryableStatusCode(status) {
		return retry.NonRetryable(err)
	}
	slog.Warn("llm: request failed, will retry", "op", op, "url", c.cfg.BaseURL, "status", status, "error", err)
	return err
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}
