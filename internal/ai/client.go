// Package ai wraps the model providers behind a single Client interface.
//
// Two providers are supported: Gemini (through its OpenAI-compatible
// endpoint, plus the native API for audio transcription) and OpenRouter.
// Both speak the same chat-completions wire format, so the request and
// response types live here and each provider only contributes its base
// URL, headers, and capabilities.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

// Client is the provider-agnostic surface the message pipeline talks to.
type Client interface {
	// GenerateResponse produces the assistant reply for userMessage given the
	// persona instructions and prior turns. It returns the reply text and the
	// total token count reported by the provider (estimated when absent).
	GenerateResponse(ctx context.Context, userMessage, systemInstructions string, history []domain.Message, mediaURLs []string) (string, int, error)

	// TranscribeAudio downloads the audio at audioURL and returns its
	// transcription. Providers without native audio support return an error.
	TranscribeAudio(ctx context.Context, audioURL string) (string, error)

	// ExtractMemories inspects one user/assistant exchange and merges any new
	// durable facts into existing. Extraction failures are soft: the existing
	// map is returned unchanged rather than an error.
	ExtractMemories(ctx context.Context, userMessage, assistantResponse string, existing map[string]string) (map[string]string, error)

	// IsConfigured reports whether the provider has an API key.
	IsConfigured() bool
}

// ErrNotConfigured is returned when a provider is used without an API key.
var ErrNotConfigured = errors.New("ai: provider not configured")

// maxImageParts caps how many media attachments are forwarded per message.
const maxImageParts = 5

// ----------------------------------------------------------------------------
// OpenAI-compatible chat completions wire types

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

// userContent builds the content field for a user turn: a plain string when
// there are no attachments, otherwise a multimodal parts array.
func userContent(text string, mediaURLs []string) any {
	if len(mediaURLs) == 0 {
		return text
	}
	parts := make([]contentPart, 0, 1+len(mediaURLs))
	if text != "" {
		parts = append(parts, contentPart{Type: "text", Text: text})
	}
	for i, u := range mediaURLs {
		if i >= maxImageParts {
			break
		}
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}
	return parts
}

// buildMessages assembles the full prompt: system instructions, prior turns
// in order, then the current user message.
func buildMessages(userMessage, systemInstructions string, history []domain.Message, mediaURLs []string) []chatMessage {
	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: systemInstructions})
	for i := range history {
		m := &history[i]
		switch m.Role {
		case domain.RoleUser:
			msgs = append(msgs, chatMessage{Role: "user", Content: userContent(m.Content, m.MediaURLs)})
		case domain.RoleAssistant:
			msgs = append(msgs, chatMessage{Role: "assistant", Content: m.Content})
		}
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: userContent(userMessage, mediaURLs)})
	return msgs
}

// completions performs one non-streaming chat-completions round trip against
// baseURL and returns (text, totalTokens). extraHeaders lets providers attach
// attribution headers without owning the transport.
func completions(ctx context.Context, hc *http.Client, baseURL, apiKey string, extraHeaders map[string]string, req chatRequest) (string, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, fmt.Errorf("ai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("ai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	for k, v := range extraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", 0, fmt.Errorf("ai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("ai: provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, fmt.Errorf("ai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, errors.New("ai: empty response from provider")
	}

	text := out.Choices[0].Message.Content
	tokens := estimateTokens(text)
	if out.Usage != nil && out.Usage.TotalTokens > 0 {
		tokens = out.Usage.TotalTokens
	}
	return text, tokens, nil
}

// estimateTokens approximates the token count when the provider omits usage
// data (roughly four bytes per token).
func estimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4.0))
}

// ----------------------------------------------------------------------------
// Memory extraction (shared across providers)

const memoryPromptTemplate = `Extract any factual information about the user from this conversation that should be remembered for future interactions.

Examples of things to remember:
- Physical attributes: height, weight, age, appearance
- Personal information: name, location, occupation, interests
- Preferences: favorite foods, hobbies, goals
- Context: relationship status, family, pets

Recent conversation:
User: %s
Assistant: %s

Current memories:
%s

Return ONLY a JSON object with key-value pairs. Use lowercase keys with underscores (e.g., "height", "weight", "name").
If no new information was provided, return an empty object {}.
If information updates an existing memory, use the new value.
Format: {"key1": "value1", "key2": "value2"}`

func memoryPrompt(userMessage, assistantResponse string, existing map[string]string) string {
	memories := "(none)"
	if len(existing) > 0 {
		var b strings.Builder
		for k, v := range existing {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
		memories = strings.TrimRight(b.String(), "\n")
	}
	return fmt.Sprintf(memoryPromptTemplate, userMessage, assistantResponse, memories)
}

// mergeMemoryJSON extracts the first {...} span from text, parses it, and
// merges it over existing. Anything unparseable yields existing unchanged.
func mergeMemoryJSON(text string, existing map[string]string) map[string]string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return existing
	}

	var fresh map[string]string
	if err := json.Unmarshal([]byte(text[start:end+1]), &fresh); err != nil || len(fresh) == 0 {
		return existing
	}

	merged := make(map[string]string, len(existing)+len(fresh))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range fresh {
		merged[k] = v
	}
	return merged
}
