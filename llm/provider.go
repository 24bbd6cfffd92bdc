package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// providerDefaults holds the default endpoint and model for each known
// provider. Every one of them speaks the OpenAI wire format.
var providerDefaults = map[string]struct {
	baseURL string
	model   string
}{
	"ollama":     {"http://localhost:11434/v1", ""},
	"lmstudio":   {"http://localhost:1234/v1", ""},
	"openrouter": {"https://openrouter.ai/api/v1", ""},
	"openai":     {"https://api.openai.com/v1", "text-embedding-3-small"},
	"groq":       {"https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
	"xai":        {"https://api.x.ai/v1", ""},
	// Gemini's OpenAI-compatible endpoint has no /v1 segment.
	"gemini": {"https://generativelanguage.googleapis.com/v1beta/openai", ""},
	"custom": {"", ""},
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	def, ok := providerDefaults[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.Model == "" {
		cfg.Model = def.model
	}
	if cfg.BaseURL == "" {
		if def.baseURL == "" {
			return nil, fmt.Errorf("llm provider %s requires base_url", cfg.Provider)
		}
		cfg.BaseURL = def.baseURL
	} else {
		cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	}
	return newClient(cfg), nil
}

// normalizeBaseURL accepts host-only URLs such as "http://localhost:11434"
// and appends the /v1 prefix the OpenAI client expects.
func normalizeBaseURL(u string) string {
	u = strings.TrimRight(u, "/")
	if strings.HasSuffix(u, "/v1") || strings.Contains(u, "/v1beta") {
		return u
	}
	return u + "/v1"
}
