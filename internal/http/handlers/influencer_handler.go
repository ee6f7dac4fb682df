// Influencer HTTP handlers.
//
// This file exposes read-only endpoints for the influencer catalog:
//   - GET /influencers        (list active personas, paginated)
//   - GET /influencers/{id}   (fetch one persona)
//
// Discontinued influencers are hidden from the list but remain fetchable by
// ID so existing conversations can still render their counterpart.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

// ListInfluencersResponse wraps a page of influencers.
type ListInfluencersResponse struct {
	Influencers []domain.Influencer `json:"influencers"`
	Page        int                 `json:"page"`
	PageSize    int                 `json:"page_size"`
}

// ListInfluencers godoc
// @ID          listInfluencers
// @Summary     List active influencers (paginated)
// @Description Returns a page of active influencer personas with resolved avatar URLs.
// @Tags        Influencers
// @Produce     json
//
// @Param       page       query   int  false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int  false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListInfluencersResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /influencers [get]
func (h *Handlers) ListInfluencers(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, err := h.infSvc.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListInfluencersResponse{
		Influencers: items,
		Page:        page,
		PageSize:    pageSize,
	})
}

// GetInfluencer godoc
// @ID          getInfluencer
// @Summary     Get an influencer
// @Description Returns one influencer persona by ID, including discontinued ones.
// @Tags        Influencers
// @Produce     json
//
// @Param       id  path  string  true  "Influencer ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Influencer
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Influencer not found"
// @Router      /influencers/{id} [get]
func (h *Handlers) GetInfluencer(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "influencer id must be a UUID")
		return
	}

	inf, err := h.infSvc.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, inf)
}
