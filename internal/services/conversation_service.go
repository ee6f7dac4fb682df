// Package services – ConversationService
//
// Owns conversation lifecycle: creation (reusing an existing thread with the
// same influencer, seeding the greeting message otherwise), listing with
// recent messages and unread counts, read receipts with real-time fan-out,
// and deletion.

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/companion-labs/go-companion-backend/internal/domain"
	"github.com/companion-labs/go-companion-backend/internal/repo"
	"github.com/companion-labs/go-companion-backend/internal/storage"
	"github.com/companion-labs/go-companion-backend/internal/ws"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// readAtLayout is the wire format for read receipts.
const readAtLayout = "2006-01-02 15:04:05"

// ConversationView is a conversation joined with its influencer, recent
// messages, and unread count, ready for serialization.
type ConversationView struct {
	Conversation   *domain.Conversation
	Influencer     *domain.Influencer
	RecentMessages []domain.Message
	MessageCount   int64
	UnreadCount    int64
}

// ReadReceipt reports the outcome of marking a conversation read.
type ReadReceipt struct {
	ConversationID string
	UnreadCount    int64
	ReadAt         time.Time
}

// ConversationService coordinates conversation CRUD and read state.
type ConversationService struct {
	DB       *gorm.DB
	Registry *ws.Registry
	Storage  *storage.Resolver
}

// Create starts (or resumes) the user's conversation with an influencer.
// When a live thread already exists it is returned as-is; otherwise a new
// one is created and the influencer's greeting, if any, is seeded as the
// first assistant message.
func (s *ConversationService) Create(ctx context.Context, userID, influencerID string) (*ConversationView, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("influencer.id", influencerID),
		),
	)
	defer span.End()

	influencer, err := repo.GetInfluencer(ctx, s.DB, influencerID)
	if err != nil {
		return nil, ErrInfluencerNotFound
	}

	existing, err := repo.GetExistingConversation(ctx, s.DB, userID, influencerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.view(ctx, existing, influencer)
	}

	conv, err := repo.CreateConversation(ctx, s.DB, userID, influencerID, nil)
	if err != nil {
		return nil, err
	}

	var recent []domain.Message
	if influencer.Greeting != "" {
		greeting, gerr := repo.CreateMessage(s.DB.WithContext(ctx), &domain.Message{
			ConversationID: conv.ID,
			Role:           domain.RoleAssistant,
			Content:        influencer.Greeting,
			MessageType:    domain.MessageTypeText,
		})
		if gerr != nil {
			log.Error().Err(gerr).Str("conversation_id", conv.ID).Msg("greeting create failed")
		} else {
			recent = []domain.Message{*greeting}
		}
	}

	return &ConversationView{
		Conversation:   conv,
		Influencer:     influencer,
		RecentMessages: recent,
		MessageCount:   int64(len(recent)),
		UnreadCount:    int64(len(recent)),
	}, nil
}

// ListPage returns one page of the user's conversations, newest activity
// first, each joined with recent messages and counts.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]ConversationView, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}

	convs, err := repo.ListConversationsPage(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}

	views := make([]ConversationView, 0, len(convs))
	for i := range convs {
		influencer, ierr := repo.GetInfluencer(ctx, s.DB, convs[i].InfluencerID)
		if ierr != nil {
			log.Warn().Err(ierr).Str("influencer_id", convs[i].InfluencerID).Msg("influencer lookup failed")
			influencer = &domain.Influencer{ID: convs[i].InfluencerID}
		}
		v, verr := s.view(ctx, &convs[i], influencer)
		if verr != nil {
			return nil, 0, verr
		}
		views = append(views, *v)
	}
	return views, total, nil
}

// ListMessages returns one page of a conversation's messages in chronological
// order after verifying ownership.
func (s *ConversationService) ListMessages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListMessages",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	for i := range msgs {
		s.presignMessage(&msgs[i])
	}
	return msgs, total, nil
}

// MarkRead resets the conversation's unread state, broadcasts the receipt to
// the user's live sessions, and returns it.
func (s *ConversationService) MarkRead(ctx context.Context, userID, conversationID string) (*ReadReceipt, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := repo.MarkConversationRead(ctx, s.DB, conversationID, now); err != nil {
		return nil, err
	}
	unread, err := repo.CountUnread(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, err
	}

	s.Registry.Publish(userID, ws.ConversationReadEvent{
		ConversationID: conversationID,
		UnreadCount:    unread,
		ReadAt:         now.Format(readAtLayout),
	})

	return &ReadReceipt{
		ConversationID: conversationID,
		UnreadCount:    unread,
		ReadAt:         now,
	}, nil
}

// Delete removes the user's conversation. Messages stay behind the
// soft-delete marker.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) (int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	deleted, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return 0, err
	}
	if err := repo.DeleteConversation(ctx, s.DB, conversationID); err != nil {
		return 0, err
	}
	return deleted, nil
}

// owned fetches a conversation and verifies it belongs to userID.
func (s *ConversationService) owned(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}
	if conv.UserID != userID {
		return nil, ErrNotYourConversation
	}
	return conv, nil
}

// view joins a conversation with its recent messages and counts.
func (s *ConversationService) view(ctx context.Context, conv *domain.Conversation, influencer *domain.Influencer) (*ConversationView, error) {
	count, err := repo.CountMessages(s.DB.WithContext(ctx), conv.ID)
	if err != nil {
		return nil, err
	}
	unread, err := repo.CountUnread(s.DB.WithContext(ctx), conv.ID)
	if err != nil {
		return nil, err
	}
	recent, err := repo.ListRecentMessages(s.DB.WithContext(ctx), conv.ID, 10)
	if err != nil {
		return nil, err
	}
	for i := range recent {
		s.presignMessage(&recent[i])
	}
	return &ConversationView{
		Conversation:   conv,
		Influencer:     influencer,
		RecentMessages: recent,
		MessageCount:   count,
		UnreadCount:    unread,
	}, nil
}

func (s *ConversationService) presignMessage(m *domain.Message) {
	if len(m.MediaURLs) > 0 {
		m.MediaURLs = s.Storage.PresignBatch(m.MediaURLs)
	}
	if m.AudioURL != nil && *m.AudioURL != "" {
		u := s.Storage.PresignURL(*m.AudioURL)
		m.AudioURL = &u
	}
}
