package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

const openRouterBase = "https://openrouter.ai/api/v1"

// openRouterHeaders carry the attribution OpenRouter asks integrators to send.
var openRouterHeaders = map[string]string{
	"HTTP-Referer": "https://companion-labs.dev",
	"X-Title":      "Companion Chat",
}

// OpenRouterClient talks to OpenRouter's chat-completions API. It is used
// for personas that the primary provider refuses to serve. It has no audio
// support.
type OpenRouterClient struct {
	hc          *http.Client
	apiKey      string
	model       string
	maxTokens   int
	temperature float64

	// Overridable in tests.
	base string
}

var _ Client = (*OpenRouterClient)(nil)

// NewOpenRouter builds an OpenRouter client. An empty apiKey yields an
// unconfigured client whose calls fail with ErrNotConfigured.
func NewOpenRouter(hc *http.Client, apiKey, model string, maxTokens int, temperature float64) *OpenRouterClient {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if model == "" {
		model = "mistralai/mistral-small-3.2-24b-instruct"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenRouterClient{
		hc:          hc,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		base:        openRouterBase,
	}
}

// IsConfigured reports whether an API key is present.
func (c *OpenRouterClient) IsConfigured() bool { return c.apiKey != "" }

// GenerateResponse implements Client.
func (c *OpenRouterClient) GenerateResponse(ctx context.Context, userMessage, systemInstructions string, history []domain.Message, mediaURLs []string) (string, int, error) {
	if !c.IsConfigured() {
		return "", 0, ErrNotConfigured
	}
	req := chatRequest{
		Model:       c.model,
		Messages:    buildMessages(userMessage, systemInstructions, history, mediaURLs),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	return completions(ctx, c.hc, c.base, c.apiKey, openRouterHeaders, req)
}

// TranscribeAudio implements Client. OpenRouter has no transcription API.
func (c *OpenRouterClient) TranscribeAudio(_ context.Context, _ string) (string, error) {
	return "", errors.New("ai: transcription not supported by this provider")
}

// ExtractMemories implements Client. Provider errors are swallowed the same
// way the Gemini client does.
func (c *OpenRouterClient) ExtractMemories(ctx context.Context, userMessage, assistantResponse string, existing map[string]string) (map[string]string, error) {
	if !c.IsConfigured() {
		return existing, nil
	}
	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: memoryPrompt(userMessage, assistantResponse, existing)}},
		Temperature: 0.1,
		MaxTokens:   1024,
	}
	text, _, err := completions(ctx, c.hc, c.base, c.apiKey, openRouterHeaders, req)
	if err != nil {
		log.Warn().Err(err).Msg("memory extraction call failed")
		return existing, nil
	}
	return mergeMemoryJSON(text, existing), nil
}
