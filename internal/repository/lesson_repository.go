package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/harmonia-school/schedule-api/internal/models"
)

const lessonColumns = "id, studio_id, teacher_id, room_id, pattern_id, lesson_date, start_time, end_time, status, is_exception, cancellation_reason, notes, created_at, updated_at"

// LessonRepository provides persistence for lesson occurrences and their
// attendance records.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository creates a new lesson repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// BeginTxx starts a transaction; occurrence writes are scoped to one.
func (r *LessonRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// CreateWithTx inserts one occurrence and assigns its generated id.
func (r *LessonRepository) CreateWithTx(ctx context.Context, exec sqlx.ExtContext, lesson *models.LessonOccurrence) error {
	now := time.Now().UTC()
	lesson.CreatedAt = now
	lesson.UpdatedAt = now
	if lesson.Status == "" {
		lesson.Status = models.LessonStatusScheduled
	}

	const query = `INSERT INTO lessons (studio_id, teacher_id, room_id, pattern_id, lesson_date, start_time, end_time, status, is_exception, cancellation_reason, notes, created_at, updated_at)
		VALUES (:studio_id, :teacher_id, :room_id, :pattern_id, :lesson_date, :start_time, :end_time, :status, :is_exception, :cancellation_reason, :notes, :created_at, :updated_at)
		RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, exec, query, lesson)
	if err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&lesson.ID); err != nil {
			return fmt.Errorf("scan lesson id: %w", err)
		}
	}
	return rows.Err()
}

// FindByID loads an occurrence by id. sql.ErrNoRows passes through.
func (r *LessonRepository) FindByID(ctx context.Context, id int64) (*models.LessonOccurrence, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons WHERE id = $1", lessonColumns)
	var lesson models.LessonOccurrence
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// ListInRange returns every occurrence of a studio inside [from, to],
// ordered by date and start time. Used for conflict scans and week views;
// the scan must span the whole studio, not one pattern.
func (r *LessonRepository) ListInRange(ctx context.Context, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error) {
	return r.ListInRangeWithTx(ctx, r.db, studioID, from, to)
}

// ListInRangeWithTx is ListInRange reading through the caller's transaction,
// so rows rewritten earlier in the same transaction are visible to the scan.
func (r *LessonRepository) ListInRangeWithTx(ctx context.Context, exec sqlx.ExtContext, studioID int64, from, to time.Time) ([]models.LessonOccurrence, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons WHERE studio_id = $1 AND lesson_date >= $2 AND lesson_date <= $3 ORDER BY lesson_date ASC, start_time ASC", lessonColumns)
	var lessons []models.LessonOccurrence
	if err := sqlx.SelectContext(ctx, exec, &lessons, query, studioID, from, to); err != nil {
		return nil, fmt.Errorf("list lessons in range: %w", err)
	}
	return lessons, nil
}

// ListForwardByPatternWithTx returns the pattern's scheduled, non-exception
// occurrences on or after the given date; the set a bulk update rewrites.
func (r *LessonRepository) ListForwardByPatternWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, from time.Time) ([]models.LessonOccurrence, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons WHERE pattern_id = $1 AND lesson_date >= $2 AND status = $3 AND is_exception = FALSE ORDER BY lesson_date ASC", lessonColumns)
	var lessons []models.LessonOccurrence
	if err := sqlx.SelectContext(ctx, exec, &lessons, query, patternID, from, models.LessonStatusScheduled); err != nil {
		return nil, fmt.Errorf("list forward lessons: %w", err)
	}
	return lessons, nil
}

// LastGeneratedDate returns the latest materialized (non-exception) date
// for a pattern, or nil when nothing was generated yet.
func (r *LessonRepository) LastGeneratedDate(ctx context.Context, patternID int64) (*time.Time, error) {
	var last sql.NullTime
	const query = `SELECT MAX(lesson_date) FROM lessons WHERE pattern_id = $1 AND is_exception = FALSE`
	if err := r.db.GetContext(ctx, &last, query, patternID); err != nil {
		return nil, fmt.Errorf("last generated date: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// UpdateWithTx rewrites a mutable occurrence row.
func (r *LessonRepository) UpdateWithTx(ctx context.Context, exec sqlx.ExtContext, lesson *models.LessonOccurrence) error {
	lesson.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lessons
		SET room_id = :room_id, lesson_date = :lesson_date, start_time = :start_time, end_time = :end_time,
		    status = :status, is_exception = :is_exception, cancellation_reason = :cancellation_reason,
		    notes = :notes, updated_at = :updated_at
		WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, exec, query, lesson)
	if err != nil {
		return fmt.Errorf("update lesson: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lesson rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteWithTx removes one occurrence and its attendance records.
func (r *LessonRepository) DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM lesson_students WHERE lesson_id = $1`, id); err != nil {
		return fmt.Errorf("delete lesson students: %w", err)
	}
	result, err := exec.ExecContext(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lesson rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteByPatternAfterWithTx prunes the pattern's scheduled, non-exception
// occurrences strictly after the boundary date (valid_until shortening).
func (r *LessonRepository) DeleteByPatternAfterWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, boundary time.Time) error {
	const clearStudents = `DELETE FROM lesson_students WHERE lesson_id IN (
		SELECT id FROM lessons WHERE pattern_id = $1 AND lesson_date > $2 AND status = $3 AND is_exception = FALSE)`
	if _, err := exec.ExecContext(ctx, clearStudents, patternID, boundary, models.LessonStatusScheduled); err != nil {
		return fmt.Errorf("delete pruned lesson students: %w", err)
	}
	const query = `DELETE FROM lessons WHERE pattern_id = $1 AND lesson_date > $2 AND status = $3 AND is_exception = FALSE`
	if _, err := exec.ExecContext(ctx, query, patternID, boundary, models.LessonStatusScheduled); err != nil {
		return fmt.Errorf("delete pruned lessons: %w", err)
	}
	return nil
}

// DeleteByPatternWithTx removes every occurrence owned by the pattern
// (cascade delete on pattern removal).
func (r *LessonRepository) DeleteByPatternWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64) error {
	const clearStudents = `DELETE FROM lesson_students WHERE lesson_id IN (SELECT id FROM lessons WHERE pattern_id = $1)`
	if _, err := exec.ExecContext(ctx, clearStudents, patternID); err != nil {
		return fmt.Errorf("delete cascaded lesson students: %w", err)
	}
	if _, err := exec.ExecContext(ctx, `DELETE FROM lessons WHERE pattern_id = $1`, patternID); err != nil {
		return fmt.Errorf("delete cascaded lessons: %w", err)
	}
	return nil
}

// AddStudentsWithTx seeds attendance rows for a lesson.
func (r *LessonRepository) AddStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, lessonID int64, studentIDs []int64) error {
	now := time.Now().UTC()
	for _, studentID := range studentIDs {
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO lesson_students (lesson_id, student_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			lessonID, studentID, models.AttendanceStatusScheduled, now, now); err != nil {
			return fmt.Errorf("add lesson student: %w", err)
		}
	}
	return nil
}

// ListStudentIDs aggregates student ids for a set of lessons.
func (r *LessonRepository) ListStudentIDs(ctx context.Context, lessonIDs []int64) (map[int64][]int64, error) {
	return r.ListStudentIDsWithTx(ctx, r.db, lessonIDs)
}

// ListStudentIDsWithTx is ListStudentIDs reading through the caller's
// transaction.
func (r *LessonRepository) ListStudentIDsWithTx(ctx context.Context, exec sqlx.ExtContext, lessonIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64, len(lessonIDs))
	if len(lessonIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT lesson_id, student_id FROM lesson_students WHERE lesson_id IN (?) ORDER BY lesson_id, student_id`, lessonIDs)
	if err != nil {
		return nil, fmt.Errorf("build lesson students query: %w", err)
	}
	query = exec.Rebind(query)

	rows, err := exec.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lesson students: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lessonID, studentID int64
		if err := rows.Scan(&lessonID, &studentID); err != nil {
			return nil, fmt.Errorf("scan lesson student: %w", err)
		}
		result[lessonID] = append(result[lessonID], studentID)
	}
	return result, rows.Err()
}

// ListAttendance returns the attendance records of one lesson.
func (r *LessonRepository) ListAttendance(ctx context.Context, lessonID int64) ([]models.AttendanceRecord, error) {
	const query = `SELECT id, lesson_id, student_id, status, created_at, updated_at FROM lesson_students WHERE lesson_id = $1 ORDER BY student_id ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, lessonID); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}

// UpdateAttendance sets one student's status on one lesson.
func (r *LessonRepository) UpdateAttendance(ctx context.Context, lessonID, studentID int64, status models.AttendanceStatus) error {
	const query = `UPDATE lesson_students SET status = $1, updated_at = $2 WHERE lesson_id = $3 AND student_id = $4`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), lessonID, studentID)
	if err != nil {
		return fmt.Errorf("update attendance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attendance rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
