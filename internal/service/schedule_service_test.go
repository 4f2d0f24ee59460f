package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
	"github.com/harmonia-school/schedule-api/pkg/jobs"
)

type scheduleLessonRepoStub struct {
	lessons      []models.LessonOccurrence
	students     map[int64][]int64
	lastByID     map[int64]*time.Time
	rangeCalls   int
	lastCalledOn []int64
}

func (s *scheduleLessonRepoStub) ListInRange(_ context.Context, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error) {
	s.rangeCalls++
	var result []models.LessonOccurrence
	for _, lesson := range s.lessons {
		if lesson.StudioID != studioID {
			continue
		}
		if lesson.LessonDate.Before(from) || lesson.LessonDate.After(to) {
			continue
		}
		result = append(result, lesson)
	}
	return result, nil
}

func (s *scheduleLessonRepoStub) ListStudentIDs(_ context.Context, lessonIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64)
	for _, id := range lessonIDs {
		if students, ok := s.students[id]; ok {
			result[id] = students
		}
	}
	return result, nil
}

func (s *scheduleLessonRepoStub) LastGeneratedDate(_ context.Context, patternID int64) (*time.Time, error) {
	s.lastCalledOn = append(s.lastCalledOn, patternID)
	return s.lastByID[patternID], nil
}

type schedulePatternRepoStub struct {
	patterns []models.RecurringPattern
}

func (s *schedulePatternRepoStub) ListActiveByStudio(_ context.Context, studioID int64) ([]models.RecurringPattern, error) {
	var result []models.RecurringPattern
	for _, pattern := range s.patterns {
		if pattern.StudioID == studioID {
			result = append(result, pattern)
		}
	}
	return result, nil
}

type queueStub struct {
	jobs []jobs.GenerationJob
}

func (s *queueStub) Enqueue(job jobs.GenerationJob) error {
	s.jobs = append(s.jobs, job)
	return nil
}

type memoryCacheRepo struct {
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: make(map[string][]byte)}
}

func (s *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.entries[key] = payload
	return nil
}

func (s *memoryCacheRepo) DeleteByPattern(_ context.Context, _ string) error {
	s.entries = make(map[string][]byte)
	return nil
}

type scheduleFixture struct {
	service  *ScheduleService
	lessons  *scheduleLessonRepoStub
	patterns *schedulePatternRepoStub
	queue    *queueStub
	cache    *memoryCacheRepo
}

func newScheduleFixture() *scheduleFixture {
	lessons := &scheduleLessonRepoStub{
		students: make(map[int64][]int64),
		lastByID: make(map[int64]*time.Time),
	}
	patterns := &schedulePatternRepoStub{}
	queue := &queueStub{}
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	return &scheduleFixture{
		service:  NewScheduleService(lessons, patterns, cache, queue, nil, nil, true),
		lessons:  lessons,
		patterns: patterns,
		queue:    queue,
		cache:    cacheRepo,
	}
}

func weekLesson(id, teacherID int64, day time.Time, students ...int64) models.LessonOccurrence {
	return models.LessonOccurrence{
		ID:         id,
		StudioID:   1,
		TeacherID:  teacherID,
		RoomID:     roomPtr(3),
		LessonDate: day,
		StartTime:  mustTime("16:00"),
		EndTime:    mustTime("17:00"),
		Status:     models.LessonStatusScheduled,
		StudentIDs: students,
	}
}

func TestWeekViewReturnsWholeWeek(t *testing.T) {
	f := newScheduleFixture()
	f.lessons.lessons = []models.LessonOccurrence{
		weekLesson(1, 10, date(2024, 1, 8)),
		weekLesson(2, 11, date(2024, 1, 14)),
		weekLesson(3, 10, date(2024, 1, 15)), // next week
	}
	f.lessons.students[1] = []int64{100}
	f.lessons.students[2] = []int64{200}

	week, err := f.service.WeekView(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-10"})
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 8), week.WeekStart)
	assert.Equal(t, date(2024, 1, 14), week.WeekEnd)
	require.Len(t, week.Lessons, 2)
	assert.Equal(t, []int64{100}, week.Lessons[0].StudentIDs)
}

func TestWeekViewFiltersByTeacherAndStudent(t *testing.T) {
	f := newScheduleFixture()
	f.lessons.lessons = []models.LessonOccurrence{
		weekLesson(1, 10, date(2024, 1, 8)),
		weekLesson(2, 11, date(2024, 1, 9)),
	}
	f.lessons.students[1] = []int64{100}
	f.lessons.students[2] = []int64{200}

	week, err := f.service.WeekView(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-08", TeacherID: 11})
	require.NoError(t, err)
	require.Len(t, week.Lessons, 1)
	assert.Equal(t, int64(2), week.Lessons[0].ID)

	week, err = f.service.WeekView(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-08", StudentID: 100})
	require.NoError(t, err)
	require.Len(t, week.Lessons, 1)
	assert.Equal(t, int64(1), week.Lessons[0].ID)
}

func TestWeekViewServesSecondReadFromCache(t *testing.T) {
	f := newScheduleFixture()
	f.lessons.lessons = []models.LessonOccurrence{weekLesson(1, 10, date(2024, 1, 8))}

	query := dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-08"}
	first, err := f.service.WeekView(context.Background(), query)
	require.NoError(t, err)

	second, err := f.service.WeekView(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, 1, f.lessons.rangeCalls)
	assert.Equal(t, first.WeekStart, second.WeekStart)
	assert.Len(t, second.Lessons, 1)
}

func TestWeekViewEnqueuesTopUpForStalePatterns(t *testing.T) {
	f := newScheduleFixture()
	stale := date(2024, 1, 10)
	f.patterns.patterns = []models.RecurringPattern{
		{ID: 1, StudioID: 1, IsActive: true},
		{ID: 2, StudioID: 1, IsActive: true},
	}
	f.lessons.lastByID[1] = &stale
	covered := date(2024, 1, 14)
	f.lessons.lastByID[2] = &covered

	_, err := f.service.WeekView(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-08"})
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, int64(1), f.queue.jobs[0].PatternID)
	assert.Equal(t, date(2024, 1, 14), f.queue.jobs[0].HorizonEnd)
	assert.NotEmpty(t, f.queue.jobs[0].ID)
}

func TestWeekViewSkipsTopUpForExpiredPatterns(t *testing.T) {
	f := newScheduleFixture()
	expired := date(2024, 1, 5)
	f.patterns.patterns = []models.RecurringPattern{
		{ID: 1, StudioID: 1, IsActive: true, ValidUntil: &expired},
	}

	_, err := f.service.WeekView(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-08"})
	require.NoError(t, err)
	assert.Empty(t, f.queue.jobs)
	assert.Empty(t, f.lessons.lastCalledOn, "expired patterns are not horizon-checked")
}

func TestWeekViewRejectsBadDate(t *testing.T) {
	f := newScheduleFixture()

	_, err := f.service.WeekView(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "01/08/2024"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportWeekCSV(t *testing.T) {
	f := newScheduleFixture()
	f.lessons.lessons = []models.LessonOccurrence{weekLesson(1, 10, date(2024, 1, 8), 100)}
	f.lessons.students[1] = []int64{100}

	payload, filename, contentType, err := f.service.ExportWeek(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-08"}, "csv")
	require.NoError(t, err)
	assert.Equal(t, "schedule-1-2024-01-08.csv", filename)
	assert.Equal(t, "text/csv", contentType)
	assert.Contains(t, string(payload), "Date,Start,End,Teacher,Room,Status,Students")
	assert.Contains(t, string(payload), "2024-01-08,16:00,17:00,10,3,scheduled,100")
}

func TestExportWeekRejectsUnknownFormat(t *testing.T) {
	f := newScheduleFixture()

	_, _, _, err := f.service.ExportWeek(context.Background(), dto.WeekScheduleQuery{StudioID: 1, Date: "2024-01-08"}, "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
