package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/harmonia-school/schedule-api/internal/dto"
	"github.com/harmonia-school/schedule-api/internal/models"
)

// ErrVersionConflict signals a lost update detected by the optimistic
// version check on recurring_patterns.
var ErrVersionConflict = errors.New("pattern version conflict")

const patternColumns = "id, studio_id, teacher_id, room_id, day_of_week, start_time, duration_minutes, valid_from, valid_until, is_active, notes, version, created_at, updated_at"

// PatternRepository provides persistence for recurring patterns and their
// student links.
type PatternRepository struct {
	db *sqlx.DB
}

// NewPatternRepository creates a new pattern repository.
func NewPatternRepository(db *sqlx.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// BeginTxx starts a transaction; lifecycle operations are scoped to one.
func (r *PatternRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// CreateWithTx inserts a pattern and assigns its generated id.
func (r *PatternRepository) CreateWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurringPattern) error {
	now := time.Now().UTC()
	pattern.CreatedAt = now
	pattern.UpdatedAt = now
	pattern.Version = 1

	const query = `INSERT INTO recurring_patterns (studio_id, teacher_id, room_id, day_of_week, start_time, duration_minutes, valid_from, valid_until, is_active, notes, version, created_at, updated_at)
		VALUES (:studio_id, :teacher_id, :room_id, :day_of_week, :start_time, :duration_minutes, :valid_from, :valid_until, :is_active, :notes, :version, :created_at, :updated_at)
		RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, exec, query, pattern)
	if err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&pattern.ID); err != nil {
			return fmt.Errorf("scan pattern id: %w", err)
		}
	}
	return rows.Err()
}

// FindByID loads a pattern by id. Callers receive sql.ErrNoRows untouched.
func (r *PatternRepository) FindByID(ctx context.Context, id int64) (*models.RecurringPattern, error) {
	query := fmt.Sprintf("SELECT %s FROM recurring_patterns WHERE id = $1", patternColumns)
	var pattern models.RecurringPattern
	if err := r.db.GetContext(ctx, &pattern, query, id); err != nil {
		return nil, err
	}
	return &pattern, nil
}

// List returns patterns with optional filtering and pagination.
func (r *PatternRepository) List(ctx context.Context, filter dto.PatternFilter) ([]models.RecurringPattern, int, error) {
	base := "FROM recurring_patterns WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudioID > 0 {
		conditions = append(conditions, fmt.Sprintf("studio_id = $%d", len(args)+1))
		args = append(args, filter.StudioID)
	}
	if filter.TeacherID > 0 {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY day_of_week ASC, start_time ASC LIMIT %d OFFSET %d", patternColumns, base, size, offset)
	var patterns []models.RecurringPattern
	if err := r.db.SelectContext(ctx, &patterns, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list patterns: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count patterns: %w", err)
	}

	return patterns, total, nil
}

// ListActive returns every active pattern, used by the generation worker.
func (r *PatternRepository) ListActive(ctx context.Context) ([]models.RecurringPattern, error) {
	query := fmt.Sprintf("SELECT %s FROM recurring_patterns WHERE is_active = TRUE ORDER BY id ASC", patternColumns)
	var patterns []models.RecurringPattern
	if err := r.db.SelectContext(ctx, &patterns, query); err != nil {
		return nil, fmt.Errorf("list active patterns: %w", err)
	}
	return patterns, nil
}

// ListActiveByStudio returns the studio's active patterns, used by the
// week-view top-up check.
func (r *PatternRepository) ListActiveByStudio(ctx context.Context, studioID int64) ([]models.RecurringPattern, error) {
	query := fmt.Sprintf("SELECT %s FROM recurring_patterns WHERE studio_id = $1 AND is_active = TRUE ORDER BY id ASC", patternColumns)
	var patterns []models.RecurringPattern
	if err := r.db.SelectContext(ctx, &patterns, query, studioID); err != nil {
		return nil, fmt.Errorf("list studio patterns: %w", err)
	}
	return patterns, nil
}

// UpdateVersionedWithTx applies the pattern row guarded by its version; a
// stale version yields ErrVersionConflict. On success the pattern's version
// is bumped in place.
func (r *PatternRepository) UpdateVersionedWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurringPattern) error {
	pattern.UpdatedAt = time.Now().UTC()
	const query = `UPDATE recurring_patterns
		SET room_id = :room_id, day_of_week = :day_of_week, start_time = :start_time, duration_minutes = :duration_minutes,
		    valid_from = :valid_from, valid_until = :valid_until, is_active = :is_active, notes = :notes,
		    version = version + 1, updated_at = :updated_at
		WHERE id = :id AND version = :version`
	result, err := sqlx.NamedExecContext(ctx, exec, query, pattern)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pattern rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	pattern.Version++
	return nil
}

// DeleteWithTx removes the pattern row itself. Owned lessons and student
// links are deleted explicitly by the caller beforehand.
func (r *PatternRepository) DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM recurring_patterns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete pattern rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetStudentIDs returns the pattern's enrolled student ids.
func (r *PatternRepository) GetStudentIDs(ctx context.Context, patternID int64) ([]int64, error) {
	return r.GetStudentIDsWithTx(ctx, r.db, patternID)
}

// GetStudentIDsWithTx is GetStudentIDs reading through the caller's
// transaction.
func (r *PatternRepository) GetStudentIDsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64) ([]int64, error) {
	var ids []int64
	const query = `SELECT student_id FROM pattern_students WHERE pattern_id = $1 ORDER BY student_id ASC`
	if err := sqlx.SelectContext(ctx, exec, &ids, query, patternID); err != nil {
		return nil, fmt.Errorf("get pattern students: %w", err)
	}
	return ids, nil
}

// AddStudentsWithTx links students to the pattern.
func (r *PatternRepository) AddStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, studentIDs []int64) error {
	now := time.Now().UTC()
	for _, studentID := range studentIDs {
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO pattern_students (pattern_id, student_id, created_at) VALUES ($1, $2, $3)`,
			patternID, studentID, now); err != nil {
			return fmt.Errorf("add pattern student: %w", err)
		}
	}
	return nil
}

// ReplaceStudentsWithTx swaps the pattern's student set.
func (r *PatternRepository) ReplaceStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64, studentIDs []int64) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM pattern_students WHERE pattern_id = $1`, patternID); err != nil {
		return fmt.Errorf("clear pattern students: %w", err)
	}
	return r.AddStudentsWithTx(ctx, exec, patternID, studentIDs)
}

// DeleteStudentsWithTx removes all links for a pattern (cascade delete).
func (r *PatternRepository) DeleteStudentsWithTx(ctx context.Context, exec sqlx.ExtContext, patternID int64) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM pattern_students WHERE pattern_id = $1`, patternID); err != nil {
		return fmt.Errorf("delete pattern students: %w", err)
	}
	return nil
}
