package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
	"github.com/harmonia-school/schedule-api/pkg/export"
	"github.com/harmonia-school/schedule-api/pkg/jobs"
)

type scheduleLessonRepository interface {
	ListInRange(ctx context.Context, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error)
	ListStudentIDs(ctx context.Context, lessonIDs []int64) (map[int64][]int64, error)
	LastGeneratedDate(ctx context.Context, patternID int64) (*time.Time, error)
}

type schedulePatternRepository interface {
	ListActiveByStudio(ctx context.Context, studioID int64) ([]models.RecurringPattern, error)
}

// GenerationEnqueuer feeds the background generation queue.
type GenerationEnqueuer interface {
	Enqueue(job jobs.GenerationJob) error
}

// ScheduleService serves the read side: cached week views and their CSV/PDF
// exports. Reading a week whose lessons have not been materialized yet
// enqueues a background top-up instead of generating inline.
type ScheduleService struct {
	lessons   scheduleLessonRepository
	patterns  schedulePatternRepository
	cache     *CacheService
	queue     GenerationEnqueuer
	validator *validator.Validate
	logger    *zap.Logger
	autoTopUp bool
}

// NewScheduleService wires schedule read dependencies. queue may be nil when
// the worker is disabled.
func NewScheduleService(lessons scheduleLessonRepository, patterns schedulePatternRepository, cache *CacheService, queue GenerationEnqueuer, validate *validator.Validate, logger *zap.Logger, autoTopUp bool) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		lessons:   lessons,
		patterns:  patterns,
		cache:     cache,
		queue:     queue,
		validator: validate,
		logger:    logger,
		autoTopUp: autoTopUp,
	}
}

// WeekView returns the studio's occurrences for the ISO week containing the
// query date, optionally narrowed to one teacher or student. Responses are
// cached per (studio, week, teacher, student).
func (s *ScheduleService) WeekView(ctx context.Context, query dto.WeekScheduleQuery) (*dto.WeekSchedule, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule query")
	}
	date, err := parseDate(query.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}

	monday := weekStart(date)
	sunday := monday.AddDate(0, 0, 6)
	key := WeekKey(query.StudioID, monday, query.TeacherID, query.StudentID)

	var cached dto.WeekSchedule
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	lessons, err := s.lessons.ListInRange(ctx, query.StudioID, monday, sunday)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load week lessons")
	}
	ids := make([]int64, 0, len(lessons))
	for _, lesson := range lessons {
		ids = append(ids, lesson.ID)
	}
	studentsByLesson, err := s.lessons.ListStudentIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson students")
	}

	filtered := make([]models.LessonOccurrence, 0, len(lessons))
	for i := range lessons {
		lesson := lessons[i]
		lesson.StudentIDs = studentsByLesson[lesson.ID]
		if query.TeacherID > 0 && lesson.TeacherID != query.TeacherID {
			continue
		}
		if query.StudentID > 0 && !containsID(lesson.StudentIDs, query.StudentID) {
			continue
		}
		filtered = append(filtered, lesson)
	}

	week := &dto.WeekSchedule{
		StudioID:  query.StudioID,
		WeekStart: monday,
		WeekEnd:   sunday,
		Lessons:   filtered,
	}
	_ = s.cache.Set(ctx, key, week, 0)

	s.topUp(ctx, query.StudioID, sunday)
	return week, nil
}

// ExportWeek renders the week view as CSV or PDF bytes together with a
// download filename and content type.
func (s *ScheduleService) ExportWeek(ctx context.Context, query dto.WeekScheduleQuery, format string) ([]byte, string, string, error) {
	week, err := s.WeekView(ctx, query)
	if err != nil {
		return nil, "", "", err
	}

	dataset := weekDataset(week)
	base := fmt.Sprintf("schedule-%d-%s", week.StudioID, week.WeekStart.Format("2006-01-02"))

	switch strings.ToLower(format) {
	case "csv":
		payload, err := export.NewCSVExporter().Render(dataset)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, base + ".csv", "text/csv", nil
	case "pdf":
		title := fmt.Sprintf("Week schedule %s", week.WeekStart.Format("2006-01-02"))
		payload, err := export.NewPDFExporter().Render(dataset, title)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, base + ".pdf", "application/pdf", nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

// topUp enqueues generation for studio patterns whose materialized horizon
// ends before the requested week. Best effort; the read path never blocks
// on generation.
func (s *ScheduleService) topUp(ctx context.Context, studioID int64, weekEnd time.Time) {
	if !s.autoTopUp || s.queue == nil {
		return
	}
	patterns, err := s.patterns.ListActiveByStudio(ctx, studioID)
	if err != nil {
		s.logger.Warn("top-up pattern scan failed", zap.Int64("studio_id", studioID), zap.Error(err))
		return
	}
	for _, pattern := range patterns {
		if pattern.ValidUntil != nil && dateOnly(*pattern.ValidUntil).Before(weekEnd) {
			continue
		}
		last, err := s.lessons.LastGeneratedDate(ctx, pattern.ID)
		if err != nil {
			s.logger.Warn("top-up horizon check failed", zap.Int64("pattern_id", pattern.ID), zap.Error(err))
			continue
		}
		if last != nil && !dateOnly(*last).Before(weekEnd) {
			continue
		}
		job := jobs.GenerationJob{ID: uuid.NewString(), PatternID: pattern.ID, HorizonEnd: weekEnd}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("top-up enqueue failed", zap.Int64("pattern_id", pattern.ID), zap.Error(err))
		}
	}
}

func weekDataset(week *dto.WeekSchedule) export.Dataset {
	headers := []string{"Date", "Start", "End", "Teacher", "Room", "Status", "Students"}
	rows := make([]map[string]string, 0, len(week.Lessons))
	for _, lesson := range week.Lessons {
		room := "online"
		if lesson.RoomID != nil {
			room = strconv.FormatInt(*lesson.RoomID, 10)
		}
		students := make([]string, 0, len(lesson.StudentIDs))
		for _, id := range lesson.StudentIDs {
			students = append(students, strconv.FormatInt(id, 10))
		}
		rows = append(rows, map[string]string{
			"Date":     lesson.LessonDate.Format("2006-01-02"),
			"Start":    lesson.StartTime.String(),
			"End":      lesson.EndTime.String(),
			"Teacher":  strconv.FormatInt(lesson.TeacherID, 10),
			"Room":     room,
			"Status":   string(lesson.Status),
			"Students": strings.Join(students, " "),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
