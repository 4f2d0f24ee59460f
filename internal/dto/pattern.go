package dto

import (
	"time"

	"github.com/harmonia-school/schedule-api/internal/models"
)

// CreatePatternRequest describes a new weekly recurrence rule. Dates use
// "2006-01-02", times "15:04".
type CreatePatternRequest struct {
	StudioID        int64   `json:"studioId" validate:"required,min=1"`
	TeacherID       int64   `json:"teacherId" validate:"required,min=1"`
	RoomID          *int64  `json:"roomId" validate:"omitempty,min=1"`
	DayOfWeek       int     `json:"dayOfWeek" validate:"required,min=1,max=7"`
	StartTime       string  `json:"startTime" validate:"required"`
	DurationMinutes int     `json:"durationMinutes" validate:"required,min=30,max=180"`
	ValidFrom       string  `json:"validFrom" validate:"required"`
	ValidUntil      *string `json:"validUntil"`
	Notes           string  `json:"notes"`
	StudentIDs      []int64 `json:"studentIds" validate:"required,min=1,dive,min=1"`
}

// UpdatePatternRequest is a sparse delta; nil fields are left unchanged.
// Version must match the stored pattern for the update to apply.
type UpdatePatternRequest struct {
	RoomID          *int64  `json:"roomId" validate:"omitempty,min=1"`
	MakeOnline      bool    `json:"makeOnline"`
	StartTime       *string `json:"startTime"`
	DurationMinutes *int    `json:"durationMinutes" validate:"omitempty,min=30,max=180"`
	ValidUntil      *string `json:"validUntil"`
	ClearValidUntil bool    `json:"clearValidUntil"`
	IsActive        *bool   `json:"isActive"`
	Notes           *string `json:"notes"`
	StudentIDs      []int64 `json:"studentIds" validate:"omitempty,min=1,dive,min=1"`
	Version         int     `json:"version" validate:"required,min=1"`
}

// GenerateRequest bounds an explicit generation run.
type GenerateRequest struct {
	HorizonEnd string `json:"horizonEnd" validate:"required"`
}

// SkippedOccurrence explains why a candidate date was not materialized.
type SkippedOccurrence struct {
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// GenerationResult reports a single generation run for one pattern.
type GenerationResult struct {
	Created []models.LessonOccurrence `json:"created"`
	Skipped []SkippedOccurrence       `json:"skipped"`
}

// UpdatePatternResponse returns the updated pattern plus any follow-up
// generation output and forced-update warnings.
type UpdatePatternResponse struct {
	Pattern    *models.RecurringPattern    `json:"pattern"`
	Generation *GenerationResult           `json:"generation,omitempty"`
	Warnings   []models.ConflictDescriptor `json:"warnings,omitempty"`
}

// GenerateAllEntry reports one pattern's outcome in a bulk generation run.
type GenerateAllEntry struct {
	PatternID int64  `json:"patternId"`
	Created   int    `json:"created"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// PatternFilter selects patterns for list views.
type PatternFilter struct {
	StudioID   int64
	TeacherID  int64
	ActiveOnly bool
	Page       int
	PageSize   int
}
