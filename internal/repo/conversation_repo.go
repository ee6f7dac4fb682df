// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

// CreateConversation inserts a new conversation row for (userID, influencerID).
func CreateConversation(ctx context.Context, db *gorm.DB, userID, influencerID string, metadata domain.JSONMap) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		InfluencerID: influencerID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	return c, db.WithContext(ctx).Create(c).Error
}

// GetConversation fetches a conversation by id. Ownership checks belong to
// the caller; the row is returned regardless of user.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetExistingConversation returns the user's live conversation with the
// given influencer, or (nil, nil) when none exists.
func GetExistingConversation(ctx context.Context, db *gorm.DB, userID, influencerID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND influencer_id = ?", userID, influencerID).
		Order("created_at ASC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversationsPage returns a page of the user's conversations ordered by
// most recent activity.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountConversations returns the user's total conversation count.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// UpdateConversationMetadata replaces the conversation's metadata blob.
func UpdateConversationMetadata(ctx context.Context, db *gorm.DB, id string, metadata domain.JSONMap) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("metadata", metadata).Error
}

// TouchConversation bumps UpdatedAt so activity ordering reflects the latest
// message without rewriting the row.
func TouchConversation(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// MarkConversationRead records the read timestamp and flips every unread
// assistant message in the conversation to read, returning how many rows
// changed.
func MarkConversationRead(ctx context.Context, db *gorm.DB, id string, at time.Time) (int64, error) {
	if err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("last_read_at", at).Error; err != nil {
		return 0, err
	}
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND role = ? AND is_read = ?", id, domain.RoleAssistant, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// DeleteConversation soft-deletes the conversation; its messages stay behind
// the soft-delete marker for audit/history.
func DeleteConversation(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Conversation{}).Error
}
