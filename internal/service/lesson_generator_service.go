package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
)

type generatorPatternRepo interface {
	GetStudentIDsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64) ([]int64, error)
}

type generatorLessonRepo interface {
	ListInRangeWithTx(ctx context.Context, exec sqlx.ExtContext, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error)
	ListStudentIDsWithTx(ctx context.Context, exec sqlx.ExtContext, lessonIDs []int64) (map[int64][]int64, error)
	CreateWithTx(ctx context.Context, exec sqlx.ExtContext, lesson *models.LessonOccurrence) error
	AddStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, lessonID int64, studentIDs []int64) error
}

// GeneratorConfig bounds lesson materialization.
type GeneratorConfig struct {
	DefaultHorizonWeeks int
	MaxWeeksForward     int
	Now                 func() time.Time
}

// LessonGeneratorService materializes lesson occurrences from recurring
// patterns: calendar enumeration, studio-wide conflict detection, attendance
// seeding. All writes go through the caller's transaction.
type LessonGeneratorService struct {
	patterns generatorPatternRepo
	lessons  generatorLessonRepo
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      GeneratorConfig
}

// NewLessonGeneratorService wires generator dependencies.
func NewLessonGeneratorService(patterns generatorPatternRepo, lessons generatorLessonRepo, metrics *MetricsService, logger *zap.Logger, cfg GeneratorConfig) *LessonGeneratorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultHorizonWeeks <= 0 {
		cfg.DefaultHorizonWeeks = 2
	}
	if cfg.MaxWeeksForward <= 0 {
		cfg.MaxWeeksForward = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LessonGeneratorService{patterns: patterns, lessons: lessons, metrics: metrics, logger: logger, cfg: cfg}
}

// DefaultHorizon is the forward boundary used when callers do not pass one.
func (s *LessonGeneratorService) DefaultHorizon() time.Time {
	return dateOnly(s.cfg.Now()).AddDate(0, 0, 7*s.cfg.DefaultHorizonWeeks)
}

// Generate materializes the pattern's occurrences up to horizonEnd inside
// the caller's transaction. Already-materialized dates are skipped silently;
// conflicting candidates are skipped with a reason, never auto-rescheduled.
func (s *LessonGeneratorService) Generate(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurringPattern, horizonEnd time.Time) (*dto.GenerationResult, error) {
	result := &dto.GenerationResult{
		Created: make([]models.LessonOccurrence, 0),
		Skipped: make([]dto.SkippedOccurrence, 0),
	}

	maxEnd := dateOnly(s.cfg.Now()).AddDate(0, 0, 7*s.cfg.MaxWeeksForward)
	if dateOnly(horizonEnd).After(maxEnd) {
		return nil, appErrors.Clone(appErrors.ErrHorizonTooLarge,
			fmt.Sprintf("horizon end %s exceeds the maximum forward window of %d weeks", horizonEnd.Format("2006-01-02"), s.cfg.MaxWeeksForward))
	}

	// A horizon ending before the pattern even starts is an empty run, not
	// an error: the pattern's first lessons simply lie past the horizon.
	if dateOnly(horizonEnd).Before(dateOnly(pattern.ValidFrom)) {
		return result, nil
	}

	candidates, err := occurrencesFor(pattern, pattern.ValidFrom, horizonEnd)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return result, nil
	}

	existing, err := s.lessons.ListInRangeWithTx(ctx, exec, pattern.StudioID, candidates[0].Date, candidates[len(candidates)-1].Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing lessons")
	}

	lessonIDs := make([]int64, 0, len(existing))
	for _, lesson := range existing {
		lessonIDs = append(lessonIDs, lesson.ID)
	}
	studentsByLesson, err := s.lessons.ListStudentIDsWithTx(ctx, exec, lessonIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson students")
	}

	patternStudents, err := s.patterns.GetStudentIDsWithTx(ctx, exec, pattern.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern students")
	}

	// Idempotency: a pattern date is considered materialized when an
	// occurrence exists for it, or when an exception of this pattern sits
	// anywhere in the same calendar week (the exception moved that week's
	// lesson).
	materialized := make(map[string]struct{})
	exceptionWeeks := make(map[string]struct{})
	occupied := make([]occupancy, 0, len(existing))
	for i := range existing {
		lesson := existing[i]
		lesson.StudentIDs = studentsByLesson[lesson.ID]
		if lesson.PatternID != nil && *lesson.PatternID == pattern.ID {
			materialized[dateKey(lesson.LessonDate)] = struct{}{}
			if lesson.IsException {
				exceptionWeeks[dateKey(weekStart(lesson.LessonDate))] = struct{}{}
			}
		}
		if lesson.Occupied() {
			occupied = append(occupied, occupancyFromLesson(lesson))
		}
	}

	for _, candidate := range candidates {
		if _, ok := materialized[dateKey(candidate.Date)]; ok {
			continue
		}
		if _, ok := exceptionWeeks[dateKey(weekStart(candidate.Date))]; ok {
			continue
		}

		proposal := occupancy{
			Date:       candidate.Date,
			Start:      candidate.Start,
			End:        candidate.End,
			TeacherID:  pattern.TeacherID,
			RoomID:     pattern.RoomID,
			StudentIDs: patternStudents,
		}
		conflicts := findConflicts(proposal, occupied)
		if len(conflicts) > 0 {
			result.Skipped = append(result.Skipped, dto.SkippedOccurrence{Date: candidate.Date, Reason: skipReason(conflicts)})
			continue
		}

		patternID := pattern.ID
		lesson := models.LessonOccurrence{
			StudioID:   pattern.StudioID,
			TeacherID:  pattern.TeacherID,
			RoomID:     pattern.RoomID,
			PatternID:  &patternID,
			LessonDate: candidate.Date,
			StartTime:  candidate.Start,
			EndTime:    candidate.End,
			Status:     models.LessonStatusScheduled,
		}
		if err := s.lessons.CreateWithTx(ctx, exec, &lesson); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist lesson")
		}
		if err := s.lessons.AddStudentsWithTx(ctx, exec, lesson.ID, patternStudents); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed attendance")
		}
		lesson.StudentIDs = patternStudents

		proposal.OccurrenceID = lesson.ID
		occupied = append(occupied, proposal)
		result.Created = append(result.Created, lesson)
	}

	if s.metrics != nil {
		s.metrics.RecordGeneration(len(result.Created), len(result.Skipped))
	}
	s.logger.Debug("generation run finished",
		zap.Int64("pattern_id", pattern.ID),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)))

	return result, nil
}

func dateKey(t time.Time) string {
	return dateOnly(t).Format("2006-01-02")
}
