package models

import "time"

// RecurringPattern is a weekly recurrence rule: "every <day_of_week> at
// <start_time>, teacher X teaches in room Y, from valid_from until
// valid_until". Lessons are materialized from it by the generator.
type RecurringPattern struct {
	ID              int64      `db:"id" json:"id"`
	StudioID        int64      `db:"studio_id" json:"studio_id"`
	TeacherID       int64      `db:"teacher_id" json:"teacher_id"`
	RoomID          *int64     `db:"room_id" json:"room_id,omitempty"`
	DayOfWeek       int        `db:"day_of_week" json:"day_of_week"`
	StartTime       TimeOfDay  `db:"start_time" json:"start_time"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	ValidFrom       time.Time  `db:"valid_from" json:"valid_from"`
	ValidUntil      *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	Notes           string     `db:"notes" json:"notes,omitempty"`
	Version         int        `db:"version" json:"version"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`

	// StudentIDs is loaded from pattern_students, not a column.
	StudentIDs []int64 `db:"-" json:"student_ids,omitempty"`
}

// EndTime derives the pattern's lesson end from start + duration.
func (p *RecurringPattern) EndTime() TimeOfDay {
	return p.StartTime.Add(p.DurationMinutes)
}

// PatternStudentLink enrolls a student into a pattern; it seeds one
// attendance record per generated lesson. Unique per (pattern, student).
type PatternStudentLink struct {
	ID        int64     `db:"id" json:"id"`
	PatternID int64     `db:"pattern_id" json:"pattern_id"`
	StudentID int64     `db:"student_id" json:"student_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
