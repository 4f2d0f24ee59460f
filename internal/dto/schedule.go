package dto

import (
	"time"

	"github.com/harmonia-school/schedule-api/internal/models"
)

// WeekScheduleQuery selects one ISO week of a studio's occurrences,
// optionally narrowed to a teacher or student.
type WeekScheduleQuery struct {
	StudioID  int64  `form:"studioId" validate:"required,min=1"`
	Date      string `form:"date" validate:"required"`
	TeacherID int64  `form:"teacherId"`
	StudentID int64  `form:"studentId"`
}

// WeekSchedule is the cached week view payload.
type WeekSchedule struct {
	StudioID  int64                     `json:"studio_id"`
	WeekStart time.Time                 `json:"week_start"`
	WeekEnd   time.Time                 `json:"week_end"`
	Lessons   []models.LessonOccurrence `json:"lessons"`
}
