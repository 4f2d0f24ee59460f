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

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
)

func newPatternRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func patternRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "studio_id", "teacher_id", "room_id", "day_of_week", "start_time",
		"duration_minutes", "valid_from", "valid_until", "is_active", "notes",
		"version", "created_at", "updated_at",
	})
}

func TestPatternRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	rows := patternRows().AddRow(
		int64(1), int64(1), int64(10), int64(3), 1, "16:00:00",
		60, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil, true, "",
		2, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, studio_id, teacher_id, room_id, day_of_week, start_time, duration_minutes, valid_from, valid_until, is_active, notes, version, created_at, updated_at FROM recurring_patterns WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	pattern, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pattern.TeacherID)
	assert.Equal(t, "16:00", pattern.StartTime.String())
	assert.Equal(t, 2, pattern.Version)
	assert.Nil(t, pattern.ValidUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternRepositoryFindByIDNoRows(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectQuery("SELECT .+ FROM recurring_patterns WHERE id").
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 42)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPatternRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM recurring_patterns WHERE 1=1 AND studio_id = $1 AND is_active = TRUE ORDER BY day_of_week ASC, start_time ASC LIMIT 20 OFFSET 0")).
		WithArgs(int64(1)).
		WillReturnRows(patternRows().AddRow(
			int64(1), int64(1), int64(10), nil, 3, "10:30:00",
			45, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil, true, "",
			1, time.Now(), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM recurring_patterns WHERE 1=1 AND studio_id = $1 AND is_active = TRUE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), dto.PatternFilter{StudioID: 1, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.Nil(t, list[0].RoomID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternRepositoryUpdateVersionedBumpsVersion(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectExec("UPDATE recurring_patterns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pattern := &models.RecurringPattern{ID: 1, Version: 3, ValidFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.UpdateVersionedWithTx(context.Background(), db, pattern))
	assert.Equal(t, 4, pattern.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternRepositoryUpdateVersionedStale(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectExec("UPDATE recurring_patterns").
		WillReturnResult(sqlmock.NewResult(0, 0))

	pattern := &models.RecurringPattern{ID: 1, Version: 1, ValidFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	err := repo.UpdateVersionedWithTx(context.Background(), db, pattern)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, pattern.Version)
}

func TestPatternRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM recurring_patterns WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteWithTx(context.Background(), db, 42)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPatternRepositoryReplaceStudents(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pattern_students WHERE pattern_id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO pattern_students").
		WithArgs(int64(1), int64(100), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO pattern_students").
		WithArgs(int64(1), int64(101), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	require.NoError(t, repo.ReplaceStudentsWithTx(context.Background(), db, 1, []int64{100, 101}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternRepositoryGetStudentIDs(t *testing.T) {
	db, mock, cleanup := newPatternRepoMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM pattern_students WHERE pattern_id = $1 ORDER BY student_id ASC")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow(100).AddRow(101))

	ids, err := repo.GetStudentIDs(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
