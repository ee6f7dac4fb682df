// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the send-message pipeline: it validates input, enforces conversation
// ownership, deduplicates retried sends, transcribes audio, assembles the
// bounded generation context, produces the assistant reply (with a canned
// fallback when the provider fails), and persists the user/assistant pair.
// Memory extraction and notification fan-out run as detached background
// work so the HTTP response never waits on them.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// conversation/user identifiers.

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/companion-labs/go-companion-backend/internal/ai"
	"github.com/companion-labs/go-companion-backend/internal/domain"
	"github.com/companion-labs/go-companion-backend/internal/notify"
	"github.com/companion-labs/go-companion-backend/internal/repo"
	"github.com/companion-labs/go-companion-backend/internal/storage"
	"github.com/companion-labs/go-companion-backend/internal/ws"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// FallbackReply is persisted as the assistant message when every
	// configured provider fails; the send is then reported as degraded.
	FallbackReply = "I'm having trouble generating a response right now. Please try again."

	// Transcription placeholders for audio messages.
	transcribedFormat        = "[Transcribed: %s]"
	transcriptionUnavailable = "[Audio message - transcription unavailable]"

	// defaultPrompt stands in for the generation input when an image-only
	// message carries no text.
	defaultPrompt = "What do you think?"

	historyLimit    = 10
	maxMediaURLs    = 10
	pushPreviewMax  = 100
	backgroundGrace = 30 * time.Second
)

var generationFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "ai_generation_fallbacks_total",
	Help: "Total number of assistant replies served from the canned fallback.",
})

func init() {
	prometheus.MustRegister(generationFallbacks)
}

// SendMessageInput is the validated payload for one send-message call.
type SendMessageInput struct {
	Content              string
	MessageType          string
	MediaURLs            []string
	AudioURL             *string
	AudioDurationSeconds *float64
	ClientMessageID      *string
}

// SendResult is the outcome of a send: the persisted user/assistant pair,
// whether the reply is the canned fallback, and whether the pair was served
// from an earlier identical send.
type SendResult struct {
	UserMessage      *domain.Message
	AssistantMessage *domain.Message
	Degraded         bool
	Deduplicated     bool
}

// MessageService coordinates message persistence and reply generation.
type MessageService struct {
	DB         *gorm.DB
	Gemini     ai.Client
	OpenRouter ai.Client
	Registry   *ws.Registry
	Push       notify.PushSender
	Storage    *storage.Resolver

	GenerateTimeout   time.Duration
	TranscribeTimeout time.Duration

	// spawn runs background continuations; nil means a plain goroutine.
	// Tests set it to run synchronously.
	spawn func(fn func())
}

// SendMessage runs the full delivery pipeline for one user message and
// returns the persisted user/assistant pair.
func (s *MessageService) SendMessage(ctx context.Context, userID, conversationID string, in SendMessageInput) (*SendResult, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.String("message.type", in.MessageType),
		),
	)
	defer span.End()

	if err := validateInput(&in); err != nil {
		return nil, err
	}

	// Clients may echo back previously resolved URLs; rows keep bare keys.
	in.MediaURLs = s.Storage.ExtractKeyBatch(in.MediaURLs)
	if in.AudioURL != nil && *in.AudioURL != "" {
		key := s.Storage.ExtractKey(*in.AudioURL)
		in.AudioURL = &key
	}

	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}
	if conv.UserID != userID {
		return nil, ErrNotYourConversation
	}

	// Retried sends with a known client_message_id replay the stored pair.
	if in.ClientMessageID != nil && *in.ClientMessageID != "" {
		if res, ok := s.replayDedup(ctx, conversationID, *in.ClientMessageID); ok {
			return res, nil
		}
	}

	influencer, err := repo.GetInfluencer(ctx, s.DB, conv.InfluencerID)
	if err != nil {
		return nil, ErrInfluencerNotFound
	}
	if influencer.Status == domain.InfluencerDiscontinued {
		return nil, ErrInfluencerDiscontinued
	}

	content := strings.TrimSpace(in.Content)
	if in.MessageType == domain.MessageTypeAudio && in.AudioURL != nil {
		content = s.transcribe(ctx, *in.AudioURL)
	}

	userMsg, err := repo.CreateMessage(s.DB.WithContext(ctx), &domain.Message{
		ConversationID:       conversationID,
		Role:                 domain.RoleUser,
		Content:              content,
		MessageType:          in.MessageType,
		MediaURLs:            in.MediaURLs,
		AudioURL:             in.AudioURL,
		AudioDurationSeconds: in.AudioDurationSeconds,
		ClientMessageID:      in.ClientMessageID,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.TouchConversation(ctx, s.DB, conversationID); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("touch conversation failed")
	}

	history := s.loadHistory(ctx, conversationID, userMsg.ID)

	memories := conv.Memories()
	instructions := enhanceInstructions(influencer.SystemInstructions, memories)

	var mediaForAI []string
	if in.MessageType == domain.MessageTypeImage || in.MessageType == domain.MessageTypeMultimodal {
		mediaForAI = s.Storage.PresignBatch(in.MediaURLs)
	}

	input := content
	if input == "" {
		input = defaultPrompt
	}

	s.Registry.Publish(userID, ws.TypingStatusEvent{
		ConversationID: conversationID,
		InfluencerID:   influencer.ID,
		IsTyping:       true,
	})
	replyText, tokens, genErr := s.generate(ctx, influencer, input, instructions, history, mediaForAI)
	s.Registry.Publish(userID, ws.TypingStatusEvent{
		ConversationID: conversationID,
		InfluencerID:   influencer.ID,
		IsTyping:       false,
	})

	degraded := false
	if genErr != nil {
		log.Error().Err(genErr).
			Str("conversation_id", conversationID).
			Str("influencer_id", influencer.ID).
			Msg("generation failed, using fallback")
		generationFallbacks.Inc()
		replyText, tokens, degraded = FallbackReply, 0, true
	}

	assistantMsg, err := repo.CreateMessage(s.DB.WithContext(ctx), &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        replyText,
		MessageType:    domain.MessageTypeText,
		TokenCount:     &tokens,
	})
	if err != nil {
		return nil, err
	}

	s.async(func() { s.extractMemories(conversationID, influencer.IsNSFW, input, replyText, memories) })
	s.async(func() { s.notify(userID, conversationID, influencer, assistantMsg) })

	s.presignMessage(userMsg)
	s.presignMessage(assistantMsg)

	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Degraded:         degraded,
	}, nil
}

// validateInput enforces the per-type payload requirements.
func validateInput(in *SendMessageInput) error {
	switch in.MessageType {
	case domain.MessageTypeText:
		if strings.TrimSpace(in.Content) == "" {
			return ErrContentRequired
		}
	case domain.MessageTypeImage, domain.MessageTypeMultimodal:
		if len(in.MediaURLs) == 0 {
			return ErrMediaRequired
		}
		if len(in.MediaURLs) > maxMediaURLs {
			return ErrTooManyMedia
		}
	case domain.MessageTypeAudio:
		if in.AudioURL == nil || *in.AudioURL == "" {
			return ErrAudioRequired
		}
	default:
		return ErrInvalidMessageType
	}
	return nil
}

// replayDedup returns the stored user/assistant pair for a repeated
// client_message_id. The send only short-circuits when the assistant reply
// already exists; a half-finished earlier attempt falls through and retries.
func (s *MessageService) replayDedup(ctx context.Context, conversationID, clientID string) (*SendResult, bool) {
	existing, err := repo.GetMessageByClientID(s.DB.WithContext(ctx), conversationID, clientID)
	if err != nil || existing == nil {
		return nil, false
	}
	reply, err := repo.GetAssistantReplyAfter(s.DB.WithContext(ctx), existing)
	if err != nil || reply == nil {
		return nil, false
	}
	s.presignMessage(existing)
	s.presignMessage(reply)
	return &SendResult{
		UserMessage:      existing,
		AssistantMessage: reply,
		Deduplicated:     true,
	}, true
}

// transcribe resolves the audio key and asks the primary provider for a
// transcription. Failures degrade to a placeholder instead of failing the
// send.
func (s *MessageService) transcribe(ctx context.Context, audioKey string) string {
	tctx := ctx
	if s.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, s.TranscribeTimeout)
		defer cancel()
	}
	text, err := s.Gemini.TranscribeAudio(tctx, s.Storage.PresignURL(audioKey))
	if err != nil {
		log.Error().Err(err).Msg("audio transcription failed")
		return transcriptionUnavailable
	}
	return fmt.Sprintf(transcribedFormat, text)
}

// loadHistory returns the last historyLimit messages before the current one,
// in chronological order, with media keys resolved to usable URLs. History
// is best effort: a read failure yields an empty context.
func (s *MessageService) loadHistory(ctx context.Context, conversationID, currentID string) []domain.Message {
	recent, err := repo.ListRecentMessages(s.DB.WithContext(ctx), conversationID, historyLimit+1)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("history load failed")
		return nil
	}

	history := recent[:0]
	for _, m := range recent {
		if m.ID != currentID {
			history = append(history, m)
		}
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	for i := range history {
		s.presignMessage(&history[i])
	}
	return history
}

// enhanceInstructions appends remembered user facts to the persona prompt.
func enhanceInstructions(base string, memories map[string]string) string {
	if len(memories) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n**MEMORIES:**\n")
	for k, v := range memories {
		fmt.Fprintf(&b, "- %s: %s\n", k, v)
	}
	return b.String()
}

// generate picks the provider for this influencer and produces the reply.
// NSFW personas go to OpenRouter when it is configured; everything else (and
// the unconfigured case) uses Gemini.
func (s *MessageService) generate(ctx context.Context, influencer *domain.Influencer, input, instructions string, history []domain.Message, mediaURLs []string) (string, int, error) {
	client := s.Gemini
	if influencer.IsNSFW && s.OpenRouter != nil && s.OpenRouter.IsConfigured() {
		client = s.OpenRouter
	}
	gctx := ctx
	if s.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.GenerateTimeout)
		defer cancel()
	}
	return client.GenerateResponse(gctx, input, instructions, history, mediaURLs)
}

// extractMemories runs after the response is delivered: it asks the provider
// for updated user facts and persists them into the conversation metadata.
// Every failure is log-only.
func (s *MessageService) extractMemories(conversationID string, isNSFW bool, input, replyText string, memories map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundGrace)
	defer cancel()

	client := s.Gemini
	if isNSFW && s.OpenRouter != nil && s.OpenRouter.IsConfigured() {
		client = s.OpenRouter
	}
	updated, err := client.ExtractMemories(ctx, input, replyText, memories)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("memory extraction failed")
		return
	}
	if memoriesEqual(updated, memories) {
		return
	}

	meta := domain.JSONMap{"memories": toAnyMap(updated)}
	if err := repo.UpdateConversationMetadata(ctx, s.DB, conversationID, meta); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("memory persist failed")
	}
}

// notify fans the assistant message out to the user's live sessions and
// sends a push with a truncated preview.
func (s *MessageService) notify(userID, conversationID string, influencer *domain.Influencer, assistantMsg *domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundGrace)
	defer cancel()

	unread, err := repo.CountUnread(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("unread count failed")
	}

	msg := *assistantMsg
	s.presignMessage(&msg)
	s.Registry.Publish(userID, ws.NewMessageEvent{
		ConversationID: conversationID,
		Message:        &msg,
		Influencer: ws.InfluencerSummary{
			ID:          influencer.ID,
			DisplayName: influencer.DisplayName,
			AvatarURL:   s.Storage.PresignURL(influencer.AvatarURL),
			IsOnline:    influencer.Status == domain.InfluencerActive,
		},
		UnreadCount: unread,
	})

	if s.Push != nil {
		s.Push.Send(ctx, userID, influencer.DisplayName, truncatePreview(assistantMsg.Content), map[string]any{
			"conversation_id": conversationID,
			"influencer_id":   influencer.ID,
			"type":            "new_message",
		})
	}
}

// presignMessage resolves stored media keys on a message in place.
func (s *MessageService) presignMessage(m *domain.Message) {
	if len(m.MediaURLs) > 0 {
		m.MediaURLs = s.Storage.PresignBatch(m.MediaURLs)
	}
	if m.AudioURL != nil && *m.AudioURL != "" {
		u := s.Storage.PresignURL(*m.AudioURL)
		m.AudioURL = &u
	}
}

// async runs fn through the configured spawner, defaulting to a goroutine.
func (s *MessageService) async(fn func()) {
	if s.spawn != nil {
		s.spawn(fn)
		return
	}
	go fn()
}

func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= pushPreviewMax {
		return text
	}
	return string(runes[:pushPreviewMax]) + "..."
}

func memoriesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
