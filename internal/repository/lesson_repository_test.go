package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-school/schedule-api/internal/models"
)

func newLessonRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func lessonRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "studio_id", "teacher_id", "room_id", "pattern_id", "lesson_date",
		"start_time", "end_time", "status", "is_exception", "cancellation_reason",
		"notes", "created_at", "updated_at",
	})
}

func TestLessonRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	rows := lessonRows().AddRow(
		int64(5), int64(1), int64(10), int64(3), int64(7), time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		"16:00:00", "17:00:00", "scheduled", false, nil,
		"", time.Now(), time.Now())
	mock.ExpectQuery("SELECT .+ FROM lessons WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(rows)

	lesson, err := repo.FindByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "16:00", lesson.StartTime.String())
	assert.Equal(t, "17:00", lesson.EndTime.String())
	assert.Equal(t, models.LessonStatusScheduled, lesson.Status)
	require.NotNil(t, lesson.PatternID)
	assert.Equal(t, int64(7), *lesson.PatternID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryListInRange(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM lessons WHERE studio_id = $1 AND lesson_date >= $2 AND lesson_date <= $3 ORDER BY lesson_date ASC, start_time ASC")).
		WithArgs(int64(1), from, to).
		WillReturnRows(lessonRows().AddRow(
			int64(5), int64(1), int64(10), nil, nil, from,
			"10:00:00", "11:00:00", "scheduled", false, nil,
			"", time.Now(), time.Now()))

	lessons, err := repo.ListInRange(context.Background(), 1, from, to)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Nil(t, lessons[0].RoomID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryListForwardByPatternInTransaction(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	from := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lessons WHERE pattern_id = $1 AND lesson_date >= $2 AND status = $3 AND is_exception = FALSE ORDER BY lesson_date ASC")).
		WithArgs(int64(7), from, models.LessonStatusScheduled).
		WillReturnRows(lessonRows())
	mock.ExpectCommit()

	tx, err := repo.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	lessons, err := repo.ListForwardByPatternWithTx(context.Background(), tx, 7, from)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Empty(t, lessons)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryListInRangeInTransaction(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lessons WHERE studio_id = $1 AND lesson_date >= $2 AND lesson_date <= $3 ORDER BY lesson_date ASC, start_time ASC")).
		WithArgs(int64(1), from, to).
		WillReturnRows(lessonRows())
	mock.ExpectCommit()

	tx, err := repo.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	lessons, err := repo.ListInRangeWithTx(context.Background(), tx, 1, from, to)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Empty(t, lessons)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryLastGeneratedDate(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	last := time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(lesson_date) FROM lessons WHERE pattern_id = $1 AND is_exception = FALSE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last))

	got, err := repo.LastGeneratedDate(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, last, *got)
}

func TestLessonRepositoryLastGeneratedDateEmpty(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(lesson_date) FROM lessons")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	got, err := repo.LastGeneratedDate(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLessonRepositoryUpdateMissingLesson(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectExec("UPDATE lessons").
		WillReturnResult(sqlmock.NewResult(0, 0))

	lesson := &models.LessonOccurrence{ID: 42, LessonDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)}
	err := repo.UpdateWithTx(context.Background(), db, lesson)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLessonRepositoryDeleteRemovesStudentsFirst(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lesson_students WHERE lesson_id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lessons WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteWithTx(context.Background(), db, 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryListStudentIDs(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectQuery("SELECT lesson_id, student_id FROM lesson_students WHERE lesson_id IN").
		WithArgs(int64(5), int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"lesson_id", "student_id"}).
			AddRow(5, 100).AddRow(5, 101).AddRow(6, 100))

	byLesson, err := repo.ListStudentIDs(context.Background(), []int64{5, 6})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101}, byLesson[5])
	assert.Equal(t, []int64{100}, byLesson[6])
}

func TestLessonRepositoryListStudentIDsEmptyInput(t *testing.T) {
	db, _, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	byLesson, err := repo.ListStudentIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, byLesson)
}

func TestLessonRepositoryUpdateAttendanceUnknownStudent(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectExec("UPDATE lesson_students SET status").
		WithArgs(models.AttendanceStatusAttended, sqlmock.AnyArg(), int64(5), int64(999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateAttendance(context.Background(), 5, 999, models.AttendanceStatusAttended)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLessonRepositoryDeleteByPatternAfter(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	boundary := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM lesson_students WHERE lesson_id IN").
		WithArgs(int64(7), boundary, models.LessonStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lessons WHERE pattern_id = $1 AND lesson_date > $2 AND status = $3 AND is_exception = FALSE")).
		WithArgs(int64(7), boundary, models.LessonStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteByPatternAfterWithTx(context.Background(), db, 7, boundary))
	assert.NoError(t, mock.ExpectationsWereMet())
}
