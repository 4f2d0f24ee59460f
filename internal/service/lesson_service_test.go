package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
)

type lessonRepoStub struct {
	lessons    map[int64]*models.LessonOccurrence
	students   map[int64][]int64
	attendance map[int64]map[int64]models.AttendanceStatus
	nextID     int64
	deleted    []int64
}

func newLessonRepoStub() *lessonRepoStub {
	return &lessonRepoStub{
		lessons:    make(map[int64]*models.LessonOccurrence),
		students:   make(map[int64][]int64),
		attendance: make(map[int64]map[int64]models.AttendanceStatus),
	}
}

func (s *lessonRepoStub) CreateWithTx(_ context.Context, _ sqlx.ExtContext, lesson *models.LessonOccurrence) error {
	s.nextID++
	lesson.ID = s.nextID
	stored := *lesson
	s.lessons[lesson.ID] = &stored
	return nil
}

func (s *lessonRepoStub) FindByID(_ context.Context, id int64) (*models.LessonOccurrence, error) {
	lesson, ok := s.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *lesson
	return &copy, nil
}

func (s *lessonRepoStub) ListInRange(_ context.Context, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error) {
	var result []models.LessonOccurrence
	for _, lesson := range s.lessons {
		if lesson.StudioID != studioID {
			continue
		}
		if lesson.LessonDate.Before(from) || lesson.LessonDate.After(to) {
			continue
		}
		result = append(result, *lesson)
	}
	return result, nil
}

func (s *lessonRepoStub) ListStudentIDs(_ context.Context, lessonIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64)
	for _, id := range lessonIDs {
		if students, ok := s.students[id]; ok {
			result[id] = students
		}
	}
	return result, nil
}

func (s *lessonRepoStub) UpdateWithTx(_ context.Context, _ sqlx.ExtContext, lesson *models.LessonOccurrence) error {
	if _, ok := s.lessons[lesson.ID]; !ok {
		return sql.ErrNoRows
	}
	stored := *lesson
	s.lessons[lesson.ID] = &stored
	return nil
}

func (s *lessonRepoStub) DeleteWithTx(_ context.Context, _ sqlx.ExtContext, id int64) error {
	if _, ok := s.lessons[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.lessons, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *lessonRepoStub) AddStudentsWithTx(_ context.Context, _ sqlx.ExtContext, lessonID int64, studentIDs []int64) error {
	s.students[lessonID] = studentIDs
	records := make(map[int64]models.AttendanceStatus, len(studentIDs))
	for _, studentID := range studentIDs {
		records[studentID] = models.AttendanceStatusScheduled
	}
	s.attendance[lessonID] = records
	return nil
}

func (s *lessonRepoStub) ListAttendance(_ context.Context, lessonID int64) ([]models.AttendanceRecord, error) {
	var result []models.AttendanceRecord
	for studentID, status := range s.attendance[lessonID] {
		result = append(result, models.AttendanceRecord{LessonID: lessonID, StudentID: studentID, Status: status})
	}
	return result, nil
}

func (s *lessonRepoStub) UpdateAttendance(_ context.Context, lessonID, studentID int64, status models.AttendanceStatus) error {
	records, ok := s.attendance[lessonID]
	if !ok {
		return sql.ErrNoRows
	}
	if _, ok := records[studentID]; !ok {
		return sql.ErrNoRows
	}
	records[studentID] = status
	return nil
}

func (s *lessonRepoStub) seed(lesson models.LessonOccurrence, students ...int64) int64 {
	s.nextID++
	lesson.ID = s.nextID
	if lesson.Status == "" {
		lesson.Status = models.LessonStatusScheduled
	}
	stored := lesson
	s.lessons[lesson.ID] = &stored
	_ = s.AddStudentsWithTx(context.Background(), nil, lesson.ID, students)
	return lesson.ID
}

func newLessonFixture(t *testing.T) (*LessonService, *lessonRepoStub) {
	tx, mock := newTxProviderMock(t)
	mock.MatchExpectationsInOrder(false)
	// Persist paths open short transactions; let the mock accept any number.
	for i := 0; i < 8; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	lessons := newLessonRepoStub()
	cache := NewCacheService(nil, nil, time.Minute, nil, false)
	return NewLessonService(lessons, tx, cache, nil, nil), lessons
}

func scheduledLesson() models.LessonOccurrence {
	return models.LessonOccurrence{
		StudioID:   1,
		TeacherID:  10,
		RoomID:     roomPtr(3),
		LessonDate: date(2024, 1, 8),
		StartTime:  mustTime("16:00"),
		EndTime:    mustTime("17:00"),
		Status:     models.LessonStatusScheduled,
	}
}

func TestLessonServiceCreateOneOff(t *testing.T) {
	service, lessons := newLessonFixture(t)

	lesson, err := service.Create(context.Background(), dto.CreateLessonRequest{
		StudioID:        1,
		TeacherID:       10,
		RoomID:          roomPtr(3),
		Date:            "2024-01-08",
		StartTime:       "16:00",
		DurationMinutes: 60,
		StudentIDs:      []int64{100},
	})
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusScheduled, lesson.Status)
	assert.Nil(t, lesson.PatternID)
	assert.Equal(t, "17:00", lesson.EndTime.String())
	assert.Equal(t, []int64{100}, lessons.students[lesson.ID])
}

func TestLessonServiceCreateRejectsConflictingSlot(t *testing.T) {
	service, lessons := newLessonFixture(t)
	lessons.seed(scheduledLesson(), 100)

	_, err := service.Create(context.Background(), dto.CreateLessonRequest{
		StudioID:        1,
		TeacherID:       10,
		RoomID:          roomPtr(4),
		Date:            "2024-01-08",
		StartTime:       "16:30",
		DurationMinutes: 60,
		StudentIDs:      []int64{200},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)

	var conflictErr *models.LessonConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, models.ResourceTeacher, conflictErr.Conflicts[0].Resource)
}

func TestLessonServiceExceptionMarksPatternOwnedLessons(t *testing.T) {
	service, lessons := newLessonFixture(t)
	patternID := int64(7)
	lesson := scheduledLesson()
	lesson.PatternID = &patternID
	id := lessons.seed(lesson, 100)

	newDate := "2024-01-09"
	updated, err := service.CreateException(context.Background(), id, dto.ExceptionRequest{Date: &newDate})
	require.NoError(t, err)
	assert.True(t, updated.IsException)
	assert.Equal(t, date(2024, 1, 9), updated.LessonDate)
	assert.Equal(t, "17:00", updated.EndTime.String(), "duration preserved")
	assert.True(t, lessons.lessons[id].IsException)
}

func TestLessonServiceExceptionLeavesOneOffsUnmarked(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	start := "17:30"
	updated, err := service.CreateException(context.Background(), id, dto.ExceptionRequest{StartTime: &start})
	require.NoError(t, err)
	assert.False(t, updated.IsException)
	assert.Equal(t, "17:30", updated.StartTime.String())
	assert.Equal(t, "18:30", updated.EndTime.String())
}

func TestLessonServiceExceptionRejectsNonScheduled(t *testing.T) {
	service, lessons := newLessonFixture(t)
	lesson := scheduledLesson()
	lesson.Status = models.LessonStatusCancelled
	id := lessons.seed(lesson, 100)

	newDate := "2024-01-09"
	_, err := service.CreateException(context.Background(), id, dto.ExceptionRequest{Date: &newDate})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestLessonServiceExceptionChecksNewSlot(t *testing.T) {
	service, lessons := newLessonFixture(t)
	blocker := scheduledLesson()
	blocker.LessonDate = date(2024, 1, 9)
	lessons.seed(blocker, 100)

	patternID := int64(7)
	lesson := scheduledLesson()
	lesson.PatternID = &patternID
	id := lessons.seed(lesson, 200)

	newDate := "2024-01-09"
	_, err := service.CreateException(context.Background(), id, dto.ExceptionRequest{Date: &newDate})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestLessonServiceRevertExceptionDeletesLesson(t *testing.T) {
	service, lessons := newLessonFixture(t)
	patternID := int64(7)
	lesson := scheduledLesson()
	lesson.PatternID = &patternID
	lesson.IsException = true
	id := lessons.seed(lesson, 100)

	require.NoError(t, service.RevertException(context.Background(), id))
	assert.Equal(t, []int64{id}, lessons.deleted)
}

func TestLessonServiceRevertRejectsRegularLessons(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	err := service.RevertException(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLessonServiceCompleteFromScheduled(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	lesson, err := service.Complete(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusCompleted, lesson.Status)

	_, err = service.Complete(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestLessonServiceCancelRequiresReason(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	_, err := service.Cancel(context.Background(), id, dto.CancelLessonRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	lesson, err := service.Cancel(context.Background(), id, dto.CancelLessonRequest{Reason: "teacher sick"})
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusCancelled, lesson.Status)
	require.NotNil(t, lesson.CancellationReason)
	assert.Equal(t, "teacher sick", *lesson.CancellationReason)
}

func TestLessonServiceMarkMissed(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	lesson, err := service.MarkMissed(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.LessonStatusMissed, lesson.Status)
}

func TestLessonServiceUpdateAttendance(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	err := service.UpdateAttendance(context.Background(), id, 100, dto.AttendanceUpdateRequest{Status: "attended"})
	require.NoError(t, err)

	records, err := service.ListAttendance(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.AttendanceStatusAttended, records[0].Status)
}

func TestLessonServiceUpdateAttendanceRejectsUnknownStatus(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	err := service.UpdateAttendance(context.Background(), id, 100, dto.AttendanceUpdateRequest{Status: "present"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLessonServiceUpdateAttendanceUnknownStudent(t *testing.T) {
	service, lessons := newLessonFixture(t)
	id := lessons.seed(scheduledLesson(), 100)

	err := service.UpdateAttendance(context.Background(), id, 999, dto.AttendanceUpdateRequest{Status: "missed"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestLessonServiceGetUnknownLesson(t *testing.T) {
	service, _ := newLessonFixture(t)

	_, err := service.Get(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
