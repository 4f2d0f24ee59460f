package service

import (
	"time"

	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
)

// candidateSlot is one proposed lesson slot enumerated from a pattern.
type candidateSlot struct {
	Date  time.Time
	Start models.TimeOfDay
	End   models.TimeOfDay
}

// occurrencesFor enumerates the pattern's lesson slots inside the horizon:
// one date per calendar week on pattern.DayOfWeek, clamped to the later of
// horizonStart/valid_from and the earlier of horizonEnd/valid_until. Pure
// function of its inputs. A horizon ending before it starts is an error; a
// pattern window that never overlaps the horizon yields an empty slice.
func occurrencesFor(pattern *models.RecurringPattern, horizonStart, horizonEnd time.Time) ([]candidateSlot, error) {
	horizonStart = dateOnly(horizonStart)
	horizonEnd = dateOnly(horizonEnd)
	if horizonEnd.Before(horizonStart) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "horizon end precedes horizon start")
	}

	start := horizonStart
	if from := dateOnly(pattern.ValidFrom); from.After(start) {
		start = from
	}
	end := horizonEnd
	if pattern.ValidUntil != nil {
		if until := dateOnly(*pattern.ValidUntil); until.Before(end) {
			end = until
		}
	}
	if end.Before(start) {
		return nil, nil
	}

	first := start
	for isoWeekday(first) != pattern.DayOfWeek {
		first = first.AddDate(0, 0, 1)
	}

	var slots []candidateSlot
	for d := first; !d.After(end); d = d.AddDate(0, 0, 7) {
		slots = append(slots, candidateSlot{Date: d, Start: pattern.StartTime, End: pattern.EndTime()})
	}
	return slots, nil
}

// isoWeekday maps time.Weekday to ISO numbering (Monday=1 .. Sunday=7).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// dateOnly strips the clock, keeping the calendar date in UTC.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sameDate compares calendar dates ignoring the clock.
func sameDate(a, b time.Time) bool {
	return dateOnly(a).Equal(dateOnly(b))
}

// weekStart returns the Monday of the date's ISO week.
func weekStart(t time.Time) time.Time {
	t = dateOnly(t)
	return t.AddDate(0, 0, -(isoWeekday(t) - 1))
}

// parseDate parses the wire date format "2006-01-02" in UTC.
func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}
