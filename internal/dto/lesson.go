package dto

// CreateLessonRequest describes a one-off lesson with no parent pattern.
type CreateLessonRequest struct {
	StudioID        int64   `json:"studioId" validate:"required,min=1"`
	TeacherID       int64   `json:"teacherId" validate:"required,min=1"`
	RoomID          *int64  `json:"roomId" validate:"omitempty,min=1"`
	Date            string  `json:"date" validate:"required"`
	StartTime       string  `json:"startTime" validate:"required"`
	DurationMinutes int     `json:"durationMinutes" validate:"required,min=30,max=180"`
	Notes           string  `json:"notes"`
	StudentIDs      []int64 `json:"studentIds" validate:"required,min=1,dive,min=1"`
}

// ExceptionRequest reschedules a single occurrence away from its pattern.
// Nil fields keep the occurrence's current values.
type ExceptionRequest struct {
	Date            *string `json:"date"`
	StartTime       *string `json:"startTime"`
	DurationMinutes *int    `json:"durationMinutes" validate:"omitempty,min=30,max=180"`
	RoomID          *int64  `json:"roomId" validate:"omitempty,min=1"`
	MakeOnline      bool    `json:"makeOnline"`
	Notes           *string `json:"notes"`
}

// CancelLessonRequest carries the mandatory cancellation reason.
type CancelLessonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// AttendanceUpdateRequest changes one student's attendance on one lesson.
type AttendanceUpdateRequest struct {
	Status string `json:"status" validate:"required"`
}
