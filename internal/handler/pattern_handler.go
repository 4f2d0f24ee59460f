package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
	"github.com/harmonia-school/schedule-api/internal/service"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
	"github.com/harmonia-school/schedule-api/pkg/response"
)

type patternManager interface {
	Create(ctx context.Context, req dto.CreatePatternRequest) (*models.RecurringPattern, *dto.GenerationResult, error)
	Get(ctx context.Context, id int64) (*models.RecurringPattern, error)
	List(ctx context.Context, filter dto.PatternFilter) ([]models.RecurringPattern, int, error)
	Update(ctx context.Context, id int64, req dto.UpdatePatternRequest, force bool) (*dto.UpdatePatternResponse, error)
	Delete(ctx context.Context, id int64) error
	GenerateOccurrences(ctx context.Context, id int64, req dto.GenerateRequest) (*dto.GenerationResult, error)
}

// PatternHandler exposes recurring pattern lifecycle endpoints.
type PatternHandler struct {
	service patternManager
}

// NewPatternHandler constructs the handler.
func NewPatternHandler(svc *service.PatternService) *PatternHandler {
	return &PatternHandler{service: svc}
}

// Create godoc
// @Summary Create a recurring pattern
// @Description Creates the weekly rule, links its students and materializes lessons up to the default horizon in one transaction.
// @Tags Patterns
// @Accept json
// @Produce json
// @Param payload body dto.CreatePatternRequest true "Pattern payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /patterns [post]
func (h *PatternHandler) Create(c *gin.Context) {
	var req dto.CreatePatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pattern payload"))
		return
	}
	pattern, generation, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"pattern": pattern, "generation": generation})
}

// List godoc
// @Summary List recurring patterns
// @Tags Patterns
// @Produce json
// @Param studioId query int false "Studio ID"
// @Param teacherId query int false "Teacher ID"
// @Param active query bool false "Active patterns only"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /patterns [get]
func (h *PatternHandler) List(c *gin.Context) {
	filter := dto.PatternFilter{
		StudioID:   queryInt64(c, "studioId"),
		TeacherID:  queryInt64(c, "teacherId"),
		ActiveOnly: c.Query("active") == "true",
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	patterns, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := models.NewPagination(filter.Page, filter.PageSize, total)
	response.JSON(c, http.StatusOK, patterns, pagination)
}

// Get godoc
// @Summary Get one recurring pattern
// @Tags Patterns
// @Produce json
// @Param id path int true "Pattern ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /patterns/{id} [get]
func (h *PatternHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	pattern, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pattern, nil)
}

// Update godoc
// @Summary Update a recurring pattern
// @Description Applies a sparse delta under optimistic locking and rewrites future scheduled occurrences. With force=true, colliding occurrences keep their slot and are returned as warnings.
// @Tags Patterns
// @Accept json
// @Produce json
// @Param id path int true "Pattern ID"
// @Param force query bool false "Apply despite conflicts"
// @Param payload body dto.UpdatePatternRequest true "Pattern delta"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /patterns/{id} [patch]
func (h *PatternHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdatePatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pattern update payload"))
		return
	}
	force := c.Query("force") == "true"
	result, err := h.service.Update(c.Request.Context(), id, req, force)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a recurring pattern
// @Description Removes the pattern with every owned occurrence, exceptions included.
// @Tags Patterns
// @Param id path int true "Pattern ID"
// @Success 204
// @Security BearerAuth
// @Router /patterns/{id} [delete]
func (h *PatternHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Generate godoc
// @Summary Generate lessons for a pattern
// @Description Materializes occurrences up to the requested horizon. Existing dates are kept, colliding dates are skipped with a reason.
// @Tags Patterns
// @Accept json
// @Produce json
// @Param id path int true "Pattern ID"
// @Param payload body dto.GenerateRequest true "Generation horizon"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /patterns/{id}/generate [post]
func (h *PatternHandler) Generate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
		return
	}
	result, err := h.service.GenerateOccurrences(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func queryInt64(c *gin.Context, name string) int64 {
	value, _ := strconv.ParseInt(c.Query(name), 10, 64)
	return value
}
