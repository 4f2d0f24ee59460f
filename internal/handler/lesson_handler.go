package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
	"github.com/harmonia-school/schedule-api/internal/service"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
	"github.com/harmonia-school/schedule-api/pkg/response"
)

type lessonManager interface {
	Create(ctx context.Context, req dto.CreateLessonRequest) (*models.LessonOccurrence, error)
	Get(ctx context.Context, id int64) (*models.LessonOccurrence, error)
	CreateException(ctx context.Context, id int64, req dto.ExceptionRequest) (*models.LessonOccurrence, error)
	RevertException(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64) (*models.LessonOccurrence, error)
	Cancel(ctx context.Context, id int64, req dto.CancelLessonRequest) (*models.LessonOccurrence, error)
	MarkMissed(ctx context.Context, id int64) (*models.LessonOccurrence, error)
	ListAttendance(ctx context.Context, lessonID int64) ([]models.AttendanceRecord, error)
	UpdateAttendance(ctx context.Context, lessonID, studentID int64, req dto.AttendanceUpdateRequest) error
}

// LessonHandler exposes occurrence-level endpoints.
type LessonHandler struct {
	service lessonManager
}

// NewLessonHandler constructs the handler.
func NewLessonHandler(svc *service.LessonService) *LessonHandler {
	return &LessonHandler{service: svc}
}

// Create godoc
// @Summary Create a one-off lesson
// @Description Creates a lesson with no parent pattern after conflict-checking its slot.
// @Tags Lessons
// @Accept json
// @Produce json
// @Param payload body dto.CreateLessonRequest true "Lesson payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons [post]
func (h *LessonHandler) Create(c *gin.Context) {
	var req dto.CreateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lesson payload"))
		return
	}
	lesson, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lesson)
}

// Get godoc
// @Summary Get one lesson
// @Tags Lessons
// @Produce json
// @Param id path int true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id} [get]
func (h *LessonHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	lesson, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// Exception godoc
// @Summary Reschedule one occurrence
// @Description Moves the occurrence to a new date, time or room and marks it as an exception immune to pattern-level bulk updates.
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path int true "Lesson ID"
// @Param payload body dto.ExceptionRequest true "Exception delta"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/exception [post]
func (h *LessonHandler) Exception(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid exception payload"))
		return
	}
	lesson, err := h.service.CreateException(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// RevertException godoc
// @Summary Revert a rescheduled occurrence
// @Description Drops the exception; the next generation run recreates the regular slot for that week.
// @Tags Lessons
// @Param id path int true "Lesson ID"
// @Success 204
// @Security BearerAuth
// @Router /lessons/{id}/exception [delete]
func (h *LessonHandler) RevertException(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.RevertException(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Complete godoc
// @Summary Mark a lesson as held
// @Tags Lessons
// @Produce json
// @Param id path int true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/complete [post]
func (h *LessonHandler) Complete(c *gin.Context) {
	h.transition(c, h.service.Complete)
}

// Cancel godoc
// @Summary Cancel a lesson
// @Description Frees the lesson's slot. A reason is mandatory.
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path int true "Lesson ID"
// @Param payload body dto.CancelLessonRequest true "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/cancel [post]
func (h *LessonHandler) Cancel(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CancelLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cancellation payload"))
		return
	}
	lesson, err := h.service.Cancel(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// MarkMissed godoc
// @Summary Mark a lesson as missed
// @Tags Lessons
// @Produce json
// @Param id path int true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/miss [post]
func (h *LessonHandler) MarkMissed(c *gin.Context) {
	h.transition(c, h.service.MarkMissed)
}

// ListAttendance godoc
// @Summary List a lesson's attendance records
// @Tags Attendance
// @Produce json
// @Param id path int true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/attendance [get]
func (h *LessonHandler) ListAttendance(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.service.ListAttendance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// UpdateAttendance godoc
// @Summary Update one student's attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path int true "Lesson ID"
// @Param studentId path int true "Student ID"
// @Param payload body dto.AttendanceUpdateRequest true "Attendance status"
// @Success 204
// @Security BearerAuth
// @Router /lessons/{id}/attendance/{studentId} [put]
func (h *LessonHandler) UpdateAttendance(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	studentID, err := pathID(c, "studentId")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.AttendanceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	if err := h.service.UpdateAttendance(c.Request.Context(), id, studentID, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *LessonHandler) transition(c *gin.Context, op func(context.Context, int64) (*models.LessonOccurrence, error)) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	lesson, err := op(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}
