package service

import (
	"time"

	"github.com/harmonia-school/schedule-api/internal/models"
)

// occupancy describes the resources one dated slot holds: its teacher, its
// room (nil for online lessons) and its students.
type occupancy struct {
	OccurrenceID int64
	Date         time.Time
	Start        models.TimeOfDay
	End          models.TimeOfDay
	TeacherID    int64
	RoomID       *int64
	StudentIDs   []int64
}

func occupancyFromLesson(lesson models.LessonOccurrence) occupancy {
	return occupancy{
		OccurrenceID: lesson.ID,
		Date:         lesson.LessonDate,
		Start:        lesson.StartTime,
		End:          lesson.EndTime,
		TeacherID:    lesson.TeacherID,
		RoomID:       lesson.RoomID,
		StudentIDs:   lesson.StudentIDs,
	}
}

// findConflicts reports every resource collision between the candidate and
// the existing occupancies: same date, overlapping [start, end) windows and
// at least one shared resource. Exactly one descriptor is produced per
// shared resource type per colliding occurrence; an occupancy never
// conflicts with itself. Pure function, no locking required.
func findConflicts(candidate occupancy, existing []occupancy) []models.ConflictDescriptor {
	var conflicts []models.ConflictDescriptor
	for _, other := range existing {
		if candidate.OccurrenceID != 0 && candidate.OccurrenceID == other.OccurrenceID {
			continue
		}
		if !sameDate(candidate.Date, other.Date) {
			continue
		}
		if !overlaps(candidate.Start, candidate.End, other.Start, other.End) {
			continue
		}

		overlapStart := maxTime(candidate.Start, other.Start)
		overlapEnd := minTime(candidate.End, other.End)

		if candidate.TeacherID == other.TeacherID {
			conflicts = append(conflicts, models.ConflictDescriptor{
				Resource:     models.ResourceTeacher,
				OccurrenceID: other.OccurrenceID,
				Date:         dateOnly(other.Date),
				OverlapStart: overlapStart,
				OverlapEnd:   overlapEnd,
			})
		}
		if candidate.RoomID != nil && other.RoomID != nil && *candidate.RoomID == *other.RoomID {
			conflicts = append(conflicts, models.ConflictDescriptor{
				Resource:     models.ResourceRoom,
				OccurrenceID: other.OccurrenceID,
				Date:         dateOnly(other.Date),
				OverlapStart: overlapStart,
				OverlapEnd:   overlapEnd,
			})
		}
		if studentID, ok := sharedStudent(candidate.StudentIDs, other.StudentIDs); ok {
			conflicts = append(conflicts, models.ConflictDescriptor{
				Resource:     models.ResourceStudent,
				OccurrenceID: other.OccurrenceID,
				Date:         dateOnly(other.Date),
				OverlapStart: overlapStart,
				OverlapEnd:   overlapEnd,
				StudentID:    studentID,
			})
		}
	}
	return conflicts
}

// overlaps implements the half-open interval test a.start < b.end && b.start < a.end.
func overlaps(aStart, aEnd, bStart, bEnd models.TimeOfDay) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func sharedStudent(a, b []int64) (int64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return id, true
		}
	}
	return 0, false
}

func maxTime(a, b models.TimeOfDay) models.TimeOfDay {
	if a.Before(b) {
		return b
	}
	return a
}

func minTime(a, b models.TimeOfDay) models.TimeOfDay {
	if a.Before(b) {
		return a
	}
	return b
}

// skipReason joins the distinct resource reasons of a conflict set, e.g.
// "room conflict" or "teacher conflict, student conflict".
func skipReason(conflicts []models.ConflictDescriptor) string {
	seen := make(map[string]struct{}, len(conflicts))
	var reason string
	for _, c := range conflicts {
		r := c.Reason()
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		if reason != "" {
			reason += ", "
		}
		reason += r
	}
	return reason
}
