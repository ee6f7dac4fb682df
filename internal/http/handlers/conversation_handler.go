// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST   /conversations                  (create or resume)
//   - GET    /conversations                  (list, paginated)
//   - GET    /conversations/{id}/messages    (message history, paginated)
//   - POST   /conversations/{id}/read        (mark read)
//   - DELETE /conversations/{id}             (delete with messages)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results (including sentinel errors) into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/companion-labs/go-companion-backend/internal/domain"
	"github.com/companion-labs/go-companion-backend/internal/services"
	"github.com/companion-labs/go-companion-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConversationService interface {
	// Create starts (or resumes) the user's conversation with an influencer.
	Create(ctx context.Context, userID, influencerID string) (*services.ConversationView, error)
	// ListPage returns a page of the user's conversations and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]services.ConversationView, int64, error)
	// ListMessages returns a page of messages within an owned conversation.
	ListMessages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// MarkRead marks all influencer messages in the conversation as read.
	MarkRead(ctx context.Context, userID, conversationID string) (*services.ReadReceipt, error)
	// Delete removes an owned conversation and returns the message count.
	Delete(ctx context.Context, userID, conversationID string) (int64, error)
}

// MessageSender defines the send-message pipeline consumed by HTTP handlers.
type MessageSender interface {
	// SendMessage runs the full delivery pipeline for one user message.
	SendMessage(ctx context.Context, userID, conversationID string, in services.SendMessageInput) (*services.SendResult, error)
}

// InfluencerService defines influencer catalog reads consumed by HTTP handlers.
type InfluencerService interface {
	// Get returns one influencer with a resolved avatar URL.
	Get(ctx context.Context, id string) (*domain.Influencer, error)
	// ListPage returns a page of active influencers.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Influencer, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversations, messages, and influencers.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	convSvc ConversationService
	msgSvc  MessageSender
	infSvc  InfluencerService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(convSvc ConversationService, msgSvc MessageSender, infSvc InfluencerService) *Handlers {
	return &Handlers{convSvc: convSvc, msgSvc: msgSvc, infSvc: infSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// readAtLayout is the wire format for read receipt timestamps.
const readAtLayout = "2006-01-02 15:04:05"

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// InfluencerID selects the persona to converse with.
	InfluencerID string `json:"influencer_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ConversationResponse is a conversation joined with its influencer, recent
// messages, and unread count.
type ConversationResponse struct {
	Conversation   *domain.Conversation `json:"conversation"`
	Influencer     *domain.Influencer   `json:"influencer"`
	RecentMessages []domain.Message     `json:"recent_messages"`
	MessageCount   int64                `json:"message_count"`
	UnreadCount    int64                `json:"unread_count"`
}

// ListConversationsResponse wraps a page of conversations and pagination
// information.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Pagination    Pagination             `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages and pagination information.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// ReadReceiptResponse reports the outcome of marking a conversation read.
type ReadReceiptResponse struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int64  `json:"unread_count"`
	ReadAt         string `json:"read_at" example:"2026-01-02 15:04:05"`
}

// DeleteConversationResponse reports the outcome of deleting a conversation.
type DeleteConversationResponse struct {
	ConversationID  string `json:"conversation_id"`
	DeletedMessages int64  `json:"deleted_messages"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paging builds the Pagination block from page parameters and a total count.
func paging(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// fromView converts a service-level conversation view into its wire shape.
func fromView(v *services.ConversationView) ConversationResponse {
	return ConversationResponse{
		Conversation:   v.Conversation,
		Influencer:     v.Influencer,
		RecentMessages: v.RecentMessages,
		MessageCount:   v.MessageCount,
		UnreadCount:    v.UnreadCount,
	}
}

// failService maps service sentinel errors to HTTP responses. Unknown errors
// become 500 with the supplied fallback code.
func failService(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrNotYourConversation):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "conversation belongs to another user")
	case errors.Is(err, services.ErrInfluencerNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "influencer not found")
	case errors.Is(err, services.ErrInfluencerDiscontinued):
		fail(c, http.StatusForbidden, ErrCodeInfluencerDiscontinued, "influencer has been discontinued")
	case errors.Is(err, services.ErrInvalidMessageType),
		errors.Is(err, services.ErrContentRequired),
		errors.Is(err, services.ErrMediaRequired),
		errors.Is(err, services.ErrTooManyMedia),
		errors.Is(err, services.ErrAudioRequired):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create or resume a conversation
// @Description Starts a conversation with an influencer for the current user. An existing live conversation with the same influencer is returned instead of creating a duplicate.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateConversationRequest  true  "Create conversation payload"
//
// @Success     201  {object}  handlers.ConversationResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Influencer not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.InfluencerID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "influencer_id required")
		return
	}
	if _, err := uuid.Parse(req.InfluencerID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "influencer_id must be a UUID")
		return
	}

	view, err := h.convSvc.Create(c.Request.Context(), userID(c), req.InfluencerID)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, fromView(view))
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of the user's conversations, most recently active first, each joined with its influencer and unread count.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       page       query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	page, pageSize := clampPagination(c)

	views, total, err := h.convSvc.ListPage(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	items := make([]ConversationResponse, 0, len(views))
	for i := range views {
		items = append(items, fromView(&views[i]))
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paging(page, pageSize, total),
	})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation (paginated)
// @Description Returns a page of messages within a conversation owned by the current user, oldest first. Media and audio URLs are resolved to time-limited links.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
// @Param       page       query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not your conversation"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	msgs, total, err := h.convSvc.ListMessages(c.Request.Context(), userID(c), convID, page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   msgs,
		Pagination: paging(page, pageSize, total),
	})
}

// MarkConversationRead godoc
// @ID          markConversationRead
// @Summary     Mark a conversation as read
// @Description Marks all influencer messages in the conversation as read and broadcasts a read receipt to the user's connected clients.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
//
// @Success     200  {object} handlers.ReadReceiptResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not your conversation"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/read [post]
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	receipt, err := h.convSvc.MarkRead(c.Request.Context(), userID(c), convID)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, ReadReceiptResponse{
		ConversationID: receipt.ConversationID,
		UnreadCount:    receipt.UnreadCount,
		ReadAt:         receipt.ReadAt.UTC().Format(readAtLayout),
	})
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Description Deletes a conversation owned by the current user along with all of its messages.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
//
// @Success     200  {object} handlers.DeleteConversationResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not your conversation"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	deleted, err := h.convSvc.Delete(c.Request.Context(), userID(c), convID)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, DeleteConversationResponse{
		ConversationID:  convID,
		DeletedMessages: deleted,
	})
}
