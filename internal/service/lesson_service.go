package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
)

type lessonRepository interface {
	CreateWithTx(ctx context.Context, exec sqlx.ExtContext, lesson *models.LessonOccurrence) error
	FindByID(ctx context.Context, id int64) (*models.LessonOccurrence, error)
	ListInRange(ctx context.Context, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error)
	ListStudentIDs(ctx context.Context, lessonIDs []int64) (map[int64][]int64, error)
	UpdateWithTx(ctx context.Context, exec sqlx.ExtContext, lesson *models.LessonOccurrence) error
	DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, id int64) error
	AddStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, lessonID int64, studentIDs []int64) error
	ListAttendance(ctx context.Context, lessonID int64) ([]models.AttendanceRecord, error)
	UpdateAttendance(ctx context.Context, lessonID, studentID int64, status models.AttendanceStatus) error
}

// LessonService manages individual occurrences: one-off lessons, exceptions
// that diverge from their pattern, status transitions and attendance.
type LessonService struct {
	lessons   lessonRepository
	tx        txProvider
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLessonService wires lesson dependencies.
func NewLessonService(lessons lessonRepository, tx txProvider, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *LessonService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LessonService{lessons: lessons, tx: tx, cache: cache, validator: validate, logger: logger}
}

// Create persists a one-off lesson with no parent pattern. The slot is
// conflict-checked against the studio's existing occurrences first.
func (s *LessonService) Create(ctx context.Context, req dto.CreateLessonRequest) (*models.LessonOccurrence, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	startTime, err := models.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid startTime: %v", err))
	}

	lesson := &models.LessonOccurrence{
		StudioID:   req.StudioID,
		TeacherID:  req.TeacherID,
		RoomID:     req.RoomID,
		LessonDate: date,
		StartTime:  startTime,
		EndTime:    startTime.Add(req.DurationMinutes),
		Status:     models.LessonStatusScheduled,
		Notes:      req.Notes,
	}

	proposal := occupancy{
		Date:       date,
		Start:      lesson.StartTime,
		End:        lesson.EndTime,
		TeacherID:  req.TeacherID,
		RoomID:     req.RoomID,
		StudentIDs: req.StudentIDs,
	}
	if err := s.checkSlot(ctx, req.StudioID, proposal); err != nil {
		return nil, err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.lessons.CreateWithTx(ctx, tx, lesson); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
		return nil, err
	}
	if err = s.lessons.AddStudentsWithTx(ctx, tx, lesson.ID, req.StudentIDs); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed attendance")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit lesson creation")
		return nil, err
	}
	lesson.StudentIDs = req.StudentIDs

	s.cache.InvalidateStudio(ctx, lesson.StudioID)
	s.logger.Info("one-off lesson created", zap.Int64("lesson_id", lesson.ID), zap.Int64("studio_id", lesson.StudioID))
	return lesson, nil
}

// Get loads one occurrence with its student set.
func (s *LessonService) Get(ctx context.Context, id int64) (*models.LessonOccurrence, error) {
	lesson, err := s.findLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	students, err := s.lessons.ListStudentIDs(ctx, []int64{id})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson students")
	}
	lesson.StudentIDs = students[id]
	return lesson, nil
}

// CreateException reschedules one occurrence away from its pattern. The
// occurrence is marked so pattern-level bulk updates and regeneration skip
// it. Nil fields keep their current values.
func (s *LessonService) CreateException(ctx context.Context, id int64, req dto.ExceptionRequest) (*models.LessonOccurrence, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exception payload")
	}

	lesson, err := s.findLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only scheduled lessons can be rescheduled")
	}

	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
		}
		lesson.LessonDate = date
	}
	duration := lesson.StartTime.Until(lesson.EndTime)
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}
	if req.StartTime != nil {
		startTime, err := models.ParseTimeOfDay(*req.StartTime)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid startTime: %v", err))
		}
		lesson.StartTime = startTime
	}
	lesson.EndTime = lesson.StartTime.Add(duration)
	if req.MakeOnline {
		lesson.RoomID = nil
	} else if req.RoomID != nil {
		lesson.RoomID = req.RoomID
	}
	if req.Notes != nil {
		lesson.Notes = *req.Notes
	}
	// One-off lessons are edited in place; only pattern-owned occurrences
	// become exceptions.
	if lesson.PatternID != nil {
		lesson.IsException = true
	}

	students, err := s.lessons.ListStudentIDs(ctx, []int64{id})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson students")
	}
	lesson.StudentIDs = students[id]

	proposal := occupancyFromLesson(*lesson)
	if err := s.checkSlot(ctx, lesson.StudioID, proposal); err != nil {
		return nil, err
	}

	if err := s.persist(ctx, lesson); err != nil {
		return nil, err
	}
	s.logger.Info("lesson rescheduled",
		zap.Int64("lesson_id", lesson.ID),
		zap.String("date", lesson.LessonDate.Format("2006-01-02")),
		zap.Bool("exception", lesson.IsException))
	return lesson, nil
}

// RevertException drops a rescheduled occurrence; the next generation run
// recreates the regular pattern slot for that week.
func (s *LessonService) RevertException(ctx context.Context, id int64) error {
	lesson, err := s.findLesson(ctx, id)
	if err != nil {
		return err
	}
	if !lesson.IsException {
		return appErrors.Clone(appErrors.ErrValidation, "lesson is not an exception")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.lessons.DeleteWithTx(ctx, tx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
			return err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete exception")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit exception revert")
		return err
	}

	s.cache.InvalidateStudio(ctx, lesson.StudioID)
	s.logger.Info("exception reverted", zap.Int64("lesson_id", id))
	return nil
}

// Complete marks a scheduled lesson as held.
func (s *LessonService) Complete(ctx context.Context, id int64) (*models.LessonOccurrence, error) {
	return s.transition(ctx, id, models.LessonStatusCompleted, nil)
}

// Cancel frees the lesson's slot. The reason is mandatory.
func (s *LessonService) Cancel(ctx context.Context, id int64, req dto.CancelLessonRequest) (*models.LessonOccurrence, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}
	return s.transition(ctx, id, models.LessonStatusCancelled, &req.Reason)
}

// MarkMissed records that a scheduled lesson did not take place.
func (s *LessonService) MarkMissed(ctx context.Context, id int64) (*models.LessonOccurrence, error) {
	return s.transition(ctx, id, models.LessonStatusMissed, nil)
}

// ListAttendance returns the attendance records of one lesson.
func (s *LessonService) ListAttendance(ctx context.Context, lessonID int64) ([]models.AttendanceRecord, error) {
	if _, err := s.findLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	records, err := s.lessons.ListAttendance(ctx, lessonID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

// UpdateAttendance sets one student's attendance status on one lesson.
func (s *LessonService) UpdateAttendance(ctx context.Context, lessonID, studentID int64, req dto.AttendanceUpdateRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	status := models.AttendanceStatus(req.Status)
	if !models.ValidAttendanceStatus(status) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown attendance status %q", req.Status))
	}
	if _, err := s.findLesson(ctx, lessonID); err != nil {
		return err
	}
	if err := s.lessons.UpdateAttendance(ctx, lessonID, studentID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in this lesson")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance")
	}
	return nil
}

func (s *LessonService) transition(ctx context.Context, id int64, target models.LessonStatus, reason *string) (*models.LessonOccurrence, error) {
	lesson, err := s.findLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("cannot transition lesson from %s to %s", lesson.Status, target))
	}
	lesson.Status = target
	lesson.CancellationReason = reason

	if err := s.persist(ctx, lesson); err != nil {
		return nil, err
	}
	s.logger.Info("lesson status changed", zap.Int64("lesson_id", id), zap.String("status", string(target)))
	return lesson, nil
}

// checkSlot rejects a proposed slot that collides with the studio's
// occupied occurrences on the same date.
func (s *LessonService) checkSlot(ctx context.Context, studioID int64, proposal occupancy) error {
	sameDay, err := s.lessons.ListInRange(ctx, studioID, dateOnly(proposal.Date), dateOnly(proposal.Date))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load studio lessons")
	}
	ids := make([]int64, 0, len(sameDay))
	for _, lesson := range sameDay {
		ids = append(ids, lesson.ID)
	}
	studentsByLesson, err := s.lessons.ListStudentIDs(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson students")
	}
	occupied := make([]occupancy, 0, len(sameDay))
	for i := range sameDay {
		lesson := sameDay[i]
		if !lesson.Occupied() {
			continue
		}
		lesson.StudentIDs = studentsByLesson[lesson.ID]
		occupied = append(occupied, occupancyFromLesson(lesson))
	}
	if conflicts := findConflicts(proposal, occupied); len(conflicts) > 0 {
		return appErrors.Wrap(
			&models.LessonConflictError{Message: "lesson slot collides with existing lessons", Conflicts: conflicts},
			appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "lesson slot collides with existing lessons")
	}
	return nil
}

func (s *LessonService) persist(ctx context.Context, lesson *models.LessonOccurrence) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.lessons.UpdateWithTx(ctx, tx, lesson); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
			return err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit lesson update")
		return err
	}
	s.cache.InvalidateStudio(ctx, lesson.StudioID)
	return nil
}

func (s *LessonService) findLesson(ctx context.Context, id int64) (*models.LessonOccurrence, error) {
	lesson, err := s.lessons.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}
