package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/service"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
	"github.com/harmonia-school/schedule-api/pkg/response"
)

type scheduleReader interface {
	WeekView(ctx context.Context, query dto.WeekScheduleQuery) (*dto.WeekSchedule, error)
	ExportWeek(ctx context.Context, query dto.WeekScheduleQuery, format string) ([]byte, string, string, error)
}

// ScheduleHandler exposes read-side schedule endpoints.
type ScheduleHandler struct {
	service scheduleReader
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(svc *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// Week godoc
// @Summary Week schedule view
// @Description Returns the studio's occurrences for the ISO week containing the date, optionally narrowed to one teacher or student.
// @Tags Schedule
// @Produce json
// @Param studioId query int true "Studio ID"
// @Param date query string true "Any date inside the week (YYYY-MM-DD)"
// @Param teacherId query int false "Teacher ID"
// @Param studentId query int false "Student ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schedule/week [get]
func (h *ScheduleHandler) Week(c *gin.Context) {
	var query dto.WeekScheduleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule query"))
		return
	}
	week, err := h.service.WeekView(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

// Export godoc
// @Summary Export a week schedule
// @Description Streams the week view as CSV or PDF.
// @Tags Schedule
// @Produce octet-stream
// @Param studioId query int true "Studio ID"
// @Param date query string true "Any date inside the week (YYYY-MM-DD)"
// @Param teacherId query int false "Teacher ID"
// @Param studentId query int false "Student ID"
// @Param format query string true "csv or pdf"
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /schedule/week/export [get]
func (h *ScheduleHandler) Export(c *gin.Context) {
	var query dto.WeekScheduleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule query"))
		return
	}
	payload, filename, contentType, err := h.service.ExportWeek(c.Request.Context(), query, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, payload)
}
