// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Influencer
// model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

// CreateInfluencer inserts a new influencer profile.
func CreateInfluencer(ctx context.Context, db *gorm.DB, inf *domain.Influencer) (*domain.Influencer, error) {
	if inf.ID == "" {
		inf.ID = uuid.NewString()
	}
	if inf.Status == "" {
		inf.Status = domain.InfluencerActive
	}
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}
	return inf, db.WithContext(ctx).Create(inf).Error
}

// GetInfluencer fetches an influencer by id.
func GetInfluencer(ctx context.Context, db *gorm.DB, id string) (*domain.Influencer, error) {
	var inf domain.Influencer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&inf).Error; err != nil {
		return nil, err
	}
	return &inf, nil
}

// ListInfluencersPage returns a page of active influencers ordered by name.
func ListInfluencersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Influencer, error) {
	var out []domain.Influencer
	err := db.WithContext(ctx).
		Where("status = ?", domain.InfluencerActive).
		Order("display_name ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
