package models

import "time"

// LessonStatus is the lifecycle state of one concrete lesson.
type LessonStatus string

const (
	LessonStatusScheduled LessonStatus = "scheduled"
	LessonStatusCompleted LessonStatus = "completed"
	LessonStatusCancelled LessonStatus = "cancelled"
	LessonStatusMissed    LessonStatus = "missed"
)

// AttendanceStatus tracks one student's participation in one lesson.
type AttendanceStatus string

const (
	AttendanceStatusScheduled AttendanceStatus = "scheduled"
	AttendanceStatusAttended  AttendanceStatus = "attended"
	AttendanceStatusMissed    AttendanceStatus = "missed"
	AttendanceStatusCancelled AttendanceStatus = "cancelled"
)

// ValidAttendanceStatus reports whether the value belongs to the closed set.
func ValidAttendanceStatus(s AttendanceStatus) bool {
	switch s {
	case AttendanceStatusScheduled, AttendanceStatusAttended, AttendanceStatusMissed, AttendanceStatusCancelled:
		return true
	}
	return false
}

// LessonOccurrence is one dated lesson. PatternID is nil for one-off
// lessons created directly; IsException marks an occurrence that diverged
// from its pattern and is skipped by pattern-level bulk updates.
type LessonOccurrence struct {
	ID                 int64        `db:"id" json:"id"`
	StudioID           int64        `db:"studio_id" json:"studio_id"`
	TeacherID          int64        `db:"teacher_id" json:"teacher_id"`
	RoomID             *int64       `db:"room_id" json:"room_id,omitempty"`
	PatternID          *int64       `db:"pattern_id" json:"pattern_id,omitempty"`
	LessonDate         time.Time    `db:"lesson_date" json:"lesson_date"`
	StartTime          TimeOfDay    `db:"start_time" json:"start_time"`
	EndTime            TimeOfDay    `db:"end_time" json:"end_time"`
	Status             LessonStatus `db:"status" json:"status"`
	IsException        bool         `db:"is_exception" json:"is_exception"`
	CancellationReason *string      `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	Notes              string       `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`

	// StudentIDs is aggregated from lesson_students, not a column.
	StudentIDs []int64 `db:"-" json:"student_ids,omitempty"`
}

// Occupied reports whether the lesson still holds its teacher, room and
// student resources. Cancelled lessons free their slot.
func (l *LessonOccurrence) Occupied() bool {
	return l.Status != LessonStatusCancelled
}

// AttendanceRecord links one lesson to one student. Unique per
// (lesson, student).
type AttendanceRecord struct {
	ID        int64            `db:"id" json:"id"`
	LessonID  int64            `db:"lesson_id" json:"lesson_id"`
	StudentID int64            `db:"student_id" json:"student_id"`
	Status    AttendanceStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}
