// Message HTTP handlers.
//
// This file exposes the send-message endpoint:
//   - POST /conversations/{id}/messages
//
// The handler validates the payload shape, delegates to the message pipeline,
// and reports degraded sends (canned fallback reply) with 503 so clients can
// surface a retry hint while still rendering the persisted pair.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/companion-labs/go-companion-backend/internal/domain"
	"github.com/companion-labs/go-companion-backend/internal/services"
)

// SendMessageRequest is the JSON payload for sending a message.
type SendMessageRequest struct {
	// Content is the message text; required for text and multimodal messages.
	Content string `json:"content" example:"Hey, how was your day?"`
	// MessageType must be one of text, image, multimodal, audio.
	MessageType string `json:"message_type" example:"text"`
	// MediaURLs carries storage keys or URLs for image/multimodal messages.
	MediaURLs []string `json:"media_urls,omitempty"`
	// AudioURL carries the storage key or URL for audio messages.
	AudioURL *string `json:"audio_url,omitempty"`
	// AudioDurationSeconds is the optional duration of the audio clip.
	AudioDurationSeconds *float64 `json:"audio_duration_seconds,omitempty"`
	// ClientMessageID deduplicates retried sends; reuse the same value when
	// retrying a request that may have already succeeded.
	ClientMessageID *string `json:"client_message_id,omitempty"`
}

// SendMessageResponse is the persisted user/assistant message pair.
type SendMessageResponse struct {
	UserMessage      *domain.Message `json:"user_message"`
	AssistantMessage *domain.Message `json:"assistant_message"`
	// Degraded is true when the reply is a canned fallback because no
	// provider produced a response.
	Degraded bool `json:"degraded,omitempty"`
	// Deduplicated is true when the pair was served from an earlier
	// identical send instead of generating again.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Appends a user message to the conversation and returns the generated assistant reply. Audio messages are transcribed first; image attachments are passed to the model. When generation fails the reply is a canned fallback and the response status is 503.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
// @Param       body       body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     200  {object} handlers.SendMessageResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not your conversation or influencer discontinued"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     503  {object} handlers.SendMessageResponse "Degraded: fallback reply persisted"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.msgSvc.SendMessage(c.Request.Context(), userID(c), convID, services.SendMessageInput{
		Content:              req.Content,
		MessageType:          req.MessageType,
		MediaURLs:            req.MediaURLs,
		AudioURL:             req.AudioURL,
		AudioDurationSeconds: req.AudioDurationSeconds,
		ClientMessageID:      req.ClientMessageID,
	})
	if err != nil {
		failService(c, err, ErrCodeSendFailed)
		return
	}

	status := http.StatusOK
	if res.Degraded {
		status = http.StatusServiceUnavailable
	}
	ok(c, status, SendMessageResponse{
		UserMessage:      res.UserMessage,
		AssistantMessage: res.AssistantMessage,
		Degraded:         res.Degraded,
		Deduplicated:     res.Deduplicated,
	})
}
