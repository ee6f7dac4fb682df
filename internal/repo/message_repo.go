// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

// CreateMessage inserts a new message row, assigning an id and creation time
// when the caller left them zero.
func CreateMessage(db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m, db.Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByClientID looks up the user message carrying the given
// idempotency token within one conversation. Returns (nil, nil) when absent.
func GetMessageByClientID(db *gorm.DB, conversationID, clientMessageID string) (*domain.Message, error) {
	var m domain.Message
	err := db.
		Where("conversation_id = ? AND client_message_id = ?", conversationID, clientMessageID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetAssistantReplyAfter returns the first assistant message that follows the
// given user message in its conversation, or (nil, nil) when no reply exists
// yet.
func GetAssistantReplyAfter(db *gorm.DB, userMsg *domain.Message) (*domain.Message, error) {
	var m domain.Message
	err := db.
		Where("conversation_id = ? AND role = ? AND (created_at > ? OR (created_at = ? AND id <> ?))",
			userMsg.ConversationID, domain.RoleAssistant, userMsg.CreatedAt, userMsg.CreatedAt, userMsg.ID).
		Order("created_at ASC, id ASC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessages returns the newest limit messages of a conversation in
// chronological order (oldest of the window first).
func ListRecentMessages(db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND deleted_at IS NULL", conversationID).
		Scan(&total).Error
	return total, err
}

// CountUnread counts assistant messages the user has not read yet.
func CountUnread(db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.
		Model(&domain.Message{}).
		Where("conversation_id = ? AND role = ? AND is_read = ?", conversationID, domain.RoleAssistant, false).
		Count(&total).Error
	return total, err
}
