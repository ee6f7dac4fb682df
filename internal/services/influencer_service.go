package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/companion-labs/go-companion-backend/internal/domain"
	"github.com/companion-labs/go-companion-backend/internal/repo"
	"github.com/companion-labs/go-companion-backend/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InfluencerService exposes the persona catalogue.
type InfluencerService struct {
	DB      *gorm.DB
	Storage *storage.Resolver
}

// Get returns one influencer with its avatar resolved to a usable URL.
func (s *InfluencerService) Get(ctx context.Context, id string) (*domain.Influencer, error) {
	inf, err := repo.GetInfluencer(ctx, s.DB, id)
	if err != nil {
		return nil, ErrInfluencerNotFound
	}
	inf.AvatarURL = s.Storage.PresignURL(inf.AvatarURL)
	return inf, nil
}

// ListPage returns one page of active influencers, avatars resolved.
func (s *InfluencerService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Influencer, error) {
	tr := otel.Tracer("services/InfluencerService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
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
	out, err := repo.ListInfluencersPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].AvatarURL = s.Storage.PresignURL(out[i].AvatarURL)
	}
	return out, nil
}
