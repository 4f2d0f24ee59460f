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
	"github.com/harmonia-school/schedule-api/internal/repository"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type patternRepository interface {
	CreateWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurringPattern) error
	FindByID(ctx context.Context, id int64) (*models.RecurringPattern, error)
	List(ctx context.Context, filter dto.PatternFilter) ([]models.RecurringPattern, int, error)
	ListActive(ctx context.Context) ([]models.RecurringPattern, error)
	UpdateVersionedWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurringPattern) error
	DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, id int64) error
	GetStudentIDs(ctx context.Context, patternID int64) ([]int64, error)
	AddStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, studentIDs []int64) error
	ReplaceStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, studentIDs []int64) error
	DeleteStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64) error
}

type patternLessonRepository interface {
	ListInRangeWithTx(ctx context.Context, exec sqlx.ExtContext, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error)
	ListForwardByPatternWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, from time.Time) ([]models.LessonOccurrence, error)
	ListStudentIDsWithTx(ctx context.Context, exec sqlx.ExtContext, lessonIDs []int64) (map[int64][]int64, error)
	UpdateWithTx(ctx context.Context, exec sqlx.ExtContext, lesson *models.LessonOccurrence) error
	DeleteByPatternAfterWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, boundary time.Time) error
	DeleteByPatternWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64) error
}

type lessonGenerator interface {
	Generate(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurringPattern, horizonEnd time.Time) (*dto.GenerationResult, error)
	DefaultHorizon() time.Time
}

// PatternService owns the recurring pattern lifecycle: creation with initial
// generation, versioned updates with forward propagation, deletion with
// cascade. Every lifecycle operation runs in a single transaction.
type PatternService struct {
	patterns  patternRepository
	lessons   patternLessonRepository
	generator lessonGenerator
	tx        txProvider
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPatternService wires pattern lifecycle dependencies.
func NewPatternService(patterns patternRepository, lessons patternLessonRepository, generator lessonGenerator, tx txProvider, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *PatternService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternService{
		patterns:  patterns,
		lessons:   lessons,
		generator: generator,
		tx:        tx,
		cache:     cache,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates and persists a new pattern, links its students and
// materializes occurrences up to the default horizon, all atomically.
func (s *PatternService) Create(ctx context.Context, req dto.CreatePatternRequest) (*models.RecurringPattern, *dto.GenerationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pattern payload")
	}

	startTime, err := models.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid startTime: %v", err))
	}
	validFrom, err := parseDate(req.ValidFrom)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid validFrom, expected YYYY-MM-DD")
	}
	var validUntil *time.Time
	if req.ValidUntil != nil {
		until, err := parseDate(*req.ValidUntil)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid validUntil, expected YYYY-MM-DD")
		}
		if until.Before(validFrom) {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "validUntil precedes validFrom")
		}
		validUntil = &until
	}

	pattern := &models.RecurringPattern{
		StudioID:        req.StudioID,
		TeacherID:       req.TeacherID,
		RoomID:          req.RoomID,
		DayOfWeek:       req.DayOfWeek,
		StartTime:       startTime,
		DurationMinutes: req.DurationMinutes,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil,
		IsActive:        true,
		Notes:           req.Notes,
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.patterns.CreateWithTx(ctx, tx, pattern); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create pattern")
		return nil, nil, err
	}
	if err = s.patterns.AddStudentsWithTx(ctx, tx, pattern.ID, req.StudentIDs); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link pattern students")
		return nil, nil, err
	}
	pattern.StudentIDs = req.StudentIDs

	var generation *dto.GenerationResult
	generation, err = s.generator.Generate(ctx, tx, pattern, s.generator.DefaultHorizon())
	if err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit pattern creation")
		return nil, nil, err
	}

	s.cache.InvalidateStudio(ctx, pattern.StudioID)
	s.logger.Info("pattern created",
		zap.Int64("pattern_id", pattern.ID),
		zap.Int64("studio_id", pattern.StudioID),
		zap.Int("lessons_created", len(generation.Created)))

	return pattern, generation, nil
}

// Get loads one pattern with its student links.
func (s *PatternService) Get(ctx context.Context, id int64) (*models.RecurringPattern, error) {
	pattern, err := s.patterns.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pattern not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern")
	}
	students, err := s.patterns.GetStudentIDs(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern students")
	}
	pattern.StudentIDs = students
	return pattern, nil
}

// List returns patterns matching the filter with their student links.
func (s *PatternService) List(ctx context.Context, filter dto.PatternFilter) ([]models.RecurringPattern, int, error) {
	patterns, total, err := s.patterns.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list patterns")
	}
	for i := range patterns {
		students, err := s.patterns.GetStudentIDs(ctx, patterns[i].ID)
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern students")
		}
		patterns[i].StudentIDs = students
	}
	return patterns, total, nil
}

// Update applies a sparse delta to the pattern under optimistic locking and
// propagates the change to future scheduled occurrences. Exceptions are
// never touched. Without force, any occurrence that would collide aborts
// the whole update; with force, colliding occurrences keep their old slot
// and are reported as warnings.
func (s *PatternService) Update(ctx context.Context, id int64, req dto.UpdatePatternRequest, force bool) (*dto.UpdatePatternResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pattern update payload")
	}

	pattern, err := s.patterns.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pattern not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern")
	}

	oldValidUntil := pattern.ValidUntil
	oldActive := pattern.IsActive
	oldRoomID := pattern.RoomID
	oldStart := pattern.StartTime
	oldDuration := pattern.DurationMinutes
	if err := applyPatternDelta(pattern, req); err != nil {
		return nil, err
	}
	// The version check happens inside the UPDATE itself; seed it with the
	// caller's expectation so a stale read loses.
	pattern.Version = req.Version

	students := req.StudentIDs
	if students == nil {
		if students, err = s.patterns.GetStudentIDs(ctx, id); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern students")
		}
	}
	pattern.StudentIDs = students

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.patterns.UpdateVersionedWithTx(ctx, tx, pattern); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			err = appErrors.Clone(appErrors.ErrConcurrentModification, "")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update pattern")
		return nil, err
	}
	if req.StudentIDs != nil {
		if err = s.patterns.ReplaceStudentsWithTx(ctx, tx, id, req.StudentIDs); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace pattern students")
			return nil, err
		}
	}

	// Forward occurrences are only rewritten when the slot itself moved;
	// a notes or activation change must not re-scan unrelated lessons.
	slotChanged := !sameRoomID(oldRoomID, pattern.RoomID) ||
		oldStart != pattern.StartTime ||
		oldDuration != pattern.DurationMinutes

	var warnings []models.ConflictDescriptor
	if slotChanged {
		warnings, err = s.propagateForward(ctx, tx, pattern, force)
		if err != nil {
			return nil, err
		}
	}

	if pattern.ValidUntil != nil && (oldValidUntil == nil || pattern.ValidUntil.Before(*oldValidUntil)) {
		if err = s.lessons.DeleteByPatternAfterWithTx(ctx, tx, id, dateOnly(*pattern.ValidUntil)); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prune lessons past validUntil")
			return nil, err
		}
	}

	var generation *dto.GenerationResult
	extended := (req.ClearValidUntil && oldValidUntil != nil) ||
		(req.ValidUntil != nil && oldValidUntil != nil && oldValidUntil.Before(*pattern.ValidUntil))
	reactivated := !oldActive && pattern.IsActive
	if pattern.IsActive && (extended || reactivated) {
		if generation, err = s.generator.Generate(ctx, tx, pattern, s.generator.DefaultHorizon()); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit pattern update")
		return nil, err
	}

	s.cache.InvalidateStudio(ctx, pattern.StudioID)
	s.logger.Info("pattern updated",
		zap.Int64("pattern_id", id),
		zap.Int("version", pattern.Version),
		zap.Bool("force", force),
		zap.Int("warnings", len(warnings)))

	return &dto.UpdatePatternResponse{Pattern: pattern, Generation: generation, Warnings: warnings}, nil
}

// propagateForward rewrites the pattern's future scheduled occurrences to the
// new slot. Conflicting rewrites either abort (default) or are skipped and
// reported (force).
func (s *PatternService) propagateForward(ctx context.Context, tx *sqlx.Tx, pattern *models.RecurringPattern, force bool) ([]models.ConflictDescriptor, error) {
	today := dateOnly(s.now())
	forward, err := s.lessons.ListForwardByPatternWithTx(ctx, tx, pattern.ID, today)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list future lessons")
	}
	if len(forward) == 0 {
		return nil, nil
	}

	lastDate := forward[len(forward)-1].LessonDate
	neighborhood, err := s.lessons.ListInRangeWithTx(ctx, tx, pattern.StudioID, today, lastDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load studio lessons")
	}
	ids := make([]int64, 0, len(neighborhood))
	for _, lesson := range neighborhood {
		ids = append(ids, lesson.ID)
	}
	studentsByLesson, err := s.lessons.ListStudentIDsWithTx(ctx, tx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson students")
	}
	occupied := make([]occupancy, 0, len(neighborhood))
	for i := range neighborhood {
		lesson := neighborhood[i]
		if !lesson.Occupied() {
			continue
		}
		lesson.StudentIDs = studentsByLesson[lesson.ID]
		occupied = append(occupied, occupancyFromLesson(lesson))
	}

	var warnings []models.ConflictDescriptor
	for i := range forward {
		lesson := forward[i]
		proposal := occupancy{
			OccurrenceID: lesson.ID,
			Date:         lesson.LessonDate,
			Start:        pattern.StartTime,
			End:          pattern.EndTime(),
			TeacherID:    pattern.TeacherID,
			RoomID:       pattern.RoomID,
			StudentIDs:   pattern.StudentIDs,
		}
		conflicts := findConflicts(proposal, occupied)
		if len(conflicts) > 0 {
			if !force {
				return nil, appErrors.Wrap(
					&models.LessonConflictError{Message: "pattern update collides with existing lessons", Conflicts: conflicts},
					appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "pattern update collides with existing lessons")
			}
			warnings = append(warnings, conflicts...)
			continue
		}

		lesson.RoomID = pattern.RoomID
		lesson.StartTime = pattern.StartTime
		lesson.EndTime = pattern.EndTime()
		if err := s.lessons.UpdateWithTx(ctx, tx, &lesson); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewrite future lesson")
		}
		for j := range occupied {
			if occupied[j].OccurrenceID == lesson.ID {
				occupied[j].Start = lesson.StartTime
				occupied[j].End = lesson.EndTime
				occupied[j].RoomID = lesson.RoomID
			}
		}
	}
	return warnings, nil
}

// Delete removes the pattern with its student links and every owned
// occurrence, exceptions included.
func (s *PatternService) Delete(ctx context.Context, id int64) error {
	pattern, err := s.patterns.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "pattern not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern")
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

	if err = s.lessons.DeleteByPatternWithTx(ctx, tx, id); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete pattern lessons")
		return err
	}
	if err = s.patterns.DeleteStudentsWithTx(ctx, tx, id); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete pattern students")
		return err
	}
	if err = s.patterns.DeleteWithTx(ctx, tx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "pattern not found")
			return err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete pattern")
		return err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit pattern deletion")
		return err
	}

	s.cache.InvalidateStudio(ctx, pattern.StudioID)
	s.logger.Info("pattern deleted", zap.Int64("pattern_id", id), zap.Int64("studio_id", pattern.StudioID))
	return nil
}

// GenerateOccurrences runs an explicit generation for one pattern up to the
// requested horizon.
func (s *PatternService) GenerateOccurrences(ctx context.Context, id int64, req dto.GenerateRequest) (*dto.GenerationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}
	horizonEnd, err := parseDate(req.HorizonEnd)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid horizonEnd, expected YYYY-MM-DD")
	}
	return s.GenerateForPattern(ctx, id, horizonEnd)
}

// GenerateForPattern materializes one pattern up to horizonEnd in its own
// transaction. Used by the explicit endpoint, the top-up worker and the
// bulk admin run.
func (s *PatternService) GenerateForPattern(ctx context.Context, id int64, horizonEnd time.Time) (*dto.GenerationResult, error) {
	pattern, err := s.patterns.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pattern not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern")
	}
	if !pattern.IsActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pattern is not active")
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

	var result *dto.GenerationResult
	result, err = s.generator.Generate(ctx, tx, pattern, horizonEnd)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit generation")
		return nil, err
	}

	if len(result.Created) > 0 {
		s.cache.InvalidateStudio(ctx, pattern.StudioID)
	}
	return result, nil
}

// GenerateAll tops up every active pattern to the default horizon. One
// pattern failing never blocks the rest; failures are reported per entry.
func (s *PatternService) GenerateAll(ctx context.Context) ([]dto.GenerateAllEntry, error) {
	patterns, err := s.patterns.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active patterns")
	}

	horizon := s.generator.DefaultHorizon()
	entries := make([]dto.GenerateAllEntry, 0, len(patterns))
	for _, pattern := range patterns {
		entry := dto.GenerateAllEntry{PatternID: pattern.ID}
		result, genErr := s.GenerateForPattern(ctx, pattern.ID, horizon)
		if genErr != nil {
			entry.Error = genErr.Error()
			s.logger.Warn("bulk generation failed for pattern", zap.Int64("pattern_id", pattern.ID), zap.Error(genErr))
		} else {
			entry.Created = len(result.Created)
			entry.Skipped = len(result.Skipped)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func sameRoomID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func applyPatternDelta(pattern *models.RecurringPattern, req dto.UpdatePatternRequest) error {
	if req.MakeOnline {
		pattern.RoomID = nil
	} else if req.RoomID != nil {
		pattern.RoomID = req.RoomID
	}
	if req.StartTime != nil {
		startTime, err := models.ParseTimeOfDay(*req.StartTime)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid startTime: %v", err))
		}
		pattern.StartTime = startTime
	}
	if req.DurationMinutes != nil {
		pattern.DurationMinutes = *req.DurationMinutes
	}
	if req.ClearValidUntil {
		pattern.ValidUntil = nil
	} else if req.ValidUntil != nil {
		until, err := parseDate(*req.ValidUntil)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "invalid validUntil, expected YYYY-MM-DD")
		}
		if until.Before(dateOnly(pattern.ValidFrom)) {
			return appErrors.Clone(appErrors.ErrValidation, "validUntil precedes validFrom")
		}
		pattern.ValidUntil = &until
	}
	if req.IsActive != nil {
		pattern.IsActive = *req.IsActive
	}
	if req.Notes != nil {
		pattern.Notes = *req.Notes
	}
	return nil
}
