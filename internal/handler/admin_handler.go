package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/service"
	"github.com/harmonia-school/schedule-api/pkg/response"
)

type bulkGenerator interface {
	GenerateAll(ctx context.Context) ([]dto.GenerateAllEntry, error)
}

// AdminHandler exposes internal service-to-service endpoints guarded by the
// shared API key, not user tokens.
type AdminHandler struct {
	service bulkGenerator
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(svc *service.PatternService) *AdminHandler {
	return &AdminHandler{service: svc}
}

// GenerateAll godoc
// @Summary Top up every active pattern
// @Description Materializes lessons for all active patterns up to the default horizon. One pattern failing does not block the rest.
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/generate-all [post]
func (h *AdminHandler) GenerateAll(c *gin.Context) {
	entries, err := h.service.GenerateAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
