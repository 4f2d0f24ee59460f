package models

import (
	"fmt"
	"time"
)

// ResourceType names an entity whose double-booking constitutes a conflict.
type ResourceType string

const (
	ResourceTeacher ResourceType = "teacher"
	ResourceRoom    ResourceType = "room"
	ResourceStudent ResourceType = "student"
)

// ConflictDescriptor records one resource collision between a proposed slot
// and an existing occurrence: the contended resource, the occurrence it
// collides with, and the overlap window on that date.
type ConflictDescriptor struct {
	Resource     ResourceType `json:"resource"`
	OccurrenceID int64        `json:"occurrence_id"`
	Date         time.Time    `json:"date"`
	OverlapStart TimeOfDay    `json:"overlap_start"`
	OverlapEnd   TimeOfDay    `json:"overlap_end"`
	StudentID    int64        `json:"student_id,omitempty"`
}

// Reason renders the short skip reason used by the generator.
func (c ConflictDescriptor) Reason() string {
	return string(c.Resource) + " conflict"
}

// String renders a human-readable description.
func (c ConflictDescriptor) String() string {
	return fmt.Sprintf("%s conflict with lesson %d on %s (%s-%s)",
		c.Resource, c.OccurrenceID, c.Date.Format("2006-01-02"), c.OverlapStart, c.OverlapEnd)
}

// LessonConflictError is returned when a lifecycle operation is rejected
// because one or more occurrences would double-book a resource.
type LessonConflictError struct {
	Message   string               `json:"message"`
	Conflicts []ConflictDescriptor `json:"conflicts"`
}

// Error implements the error interface.
func (e *LessonConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%d conflicts)", e.Message, len(e.Conflicts))
}
