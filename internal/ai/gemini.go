package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

const (
	geminiOpenAIBase = "https://generativelanguage.googleapis.com/v1beta/openai"
	geminiNativeBase = "https://generativelanguage.googleapis.com/v1beta"

	transcribePrompt = "Please transcribe this audio file accurately. Only return the transcription text without any additional commentary."

	// maxAudioBytes bounds how much audio we will download for transcription.
	maxAudioBytes = 20 << 20
)

// GeminiClient talks to Gemini. Chat goes through the OpenAI-compatible
// endpoint; transcription uses the native generateContent API because the
// compatibility layer does not accept inline audio.
type GeminiClient struct {
	hc          *http.Client
	apiKey      string
	model       string
	maxTokens   int
	temperature float64

	// Overridable in tests.
	openAIBase string
	nativeBase string
}

var _ Client = (*GeminiClient)(nil)

// NewGemini builds a Gemini client. An empty apiKey yields an unconfigured
// client whose calls fail with ErrNotConfigured.
func NewGemini(hc *http.Client, apiKey, model string, maxTokens int, temperature float64) *GeminiClient {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &GeminiClient{
		hc:          hc,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		openAIBase:  geminiOpenAIBase,
		nativeBase:  geminiNativeBase,
	}
}

// IsConfigured reports whether an API key is present.
func (c *GeminiClient) IsConfigured() bool { return c.apiKey != "" }

// GenerateResponse implements Client.
func (c *GeminiClient) GenerateResponse(ctx context.Context, userMessage, systemInstructions string, history []domain.Message, mediaURLs []string) (string, int, error) {
	if !c.IsConfigured() {
		return "", 0, ErrNotConfigured
	}
	req := chatRequest{
		Model:       c.model,
		Messages:    buildMessages(userMessage, systemInstructions, history, mediaURLs),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	return completions(ctx, c.hc, c.openAIBase, c.apiKey, nil, req)
}

// ExtractMemories implements Client. Provider errors are swallowed: the
// existing memories are returned so a flaky extraction never loses state.
func (c *GeminiClient) ExtractMemories(ctx context.Context, userMessage, assistantResponse string, existing map[string]string) (map[string]string, error) {
	if !c.IsConfigured() {
		return existing, nil
	}
	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: memoryPrompt(userMessage, assistantResponse, existing)}},
		Temperature: 0.1,
		MaxTokens:   1024,
	}
	text, _, err := completions(ctx, c.hc, c.openAIBase, c.apiKey, nil, req)
	if err != nil {
		log.Warn().Err(err).Msg("memory extraction call failed")
		return existing, nil
	}
	return mergeMemoryJSON(text, existing), nil
}

// Native generateContent types, transcription only.

type geminiGenerateRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// TranscribeAudio downloads the audio at audioURL, inlines it base64 into a
// native generateContent call, and returns the trimmed transcription text.
func (c *GeminiClient) TranscribeAudio(ctx context.Context, audioURL string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	mime, data, err := c.fetchAudio(ctx, audioURL)
	if err != nil {
		return "", err
	}

	var body geminiGenerateRequest
	body.Contents = append(body.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{Parts: []geminiPart{
		{Text: transcribePrompt},
		{InlineData: &geminiInlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(data)}},
	}})
	body.GenerationConfig.Temperature = 0.1
	body.GenerationConfig.MaxOutputTokens = 4096

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ai: marshal transcription request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.nativeBase, "/"), c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ai: build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("ai: read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("body", strings.TrimSpace(string(raw))).Msg("gemini transcription error")
		return "", errors.New("ai: audio transcription failed")
	}

	var out geminiGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("ai: decode transcription response: %w", err)
	}
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			if t := strings.TrimSpace(p.Text); t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("ai: empty transcription response")
}

// fetchAudio downloads the audio payload and returns its content type and
// bytes. Content type falls back to audio/mpeg when the origin omits it.
func (c *GeminiClient) fetchAudio(ctx context.Context, audioURL string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("ai: build audio request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("ai: download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("ai: audio download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return "", nil, fmt.Errorf("ai: read audio: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}
	if i := strings.IndexByte(mime, ';'); i > 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime, data, nil
}
