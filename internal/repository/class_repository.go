package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classreg-api/internal/models"
)

// ClassRepository handles persistence of class offerings.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, name, teacher_id, capacity, price, days, start_minute, duration_minutes, created_at, updated_at`

// FindByID returns a class by its ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE id = $1`, classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// ListByTeacher returns all class offerings for a teacher ordered by
// creation time.
func (r *ClassRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE teacher_id = $1 ORDER BY created_at ASC`, classColumns)
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, teacherID); err != nil {
		return nil, fmt.Errorf("list classes by teacher: %w", err)
	}
	return classes, nil
}

// ListWithAvailability returns classes with live confirmed and waitlist
// counts derived from source rows.
func (r *ClassRepository) ListWithAvailability(ctx context.Context, filter models.ClassFilter) ([]models.ClassAvailability, int, error) {
	base := `FROM classes c`
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("c.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("c.name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT c.id, c.name, c.teacher_id, c.capacity, c.price, c.days, c.start_minute, c.duration_minutes, c.created_at, c.updated_at,
        (SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.status = 'CONFIRMED') AS confirmed_count,
        (SELECT COUNT(*) FROM waitlist_entries w WHERE w.class_id = c.id) AS waitlist_length
        %s ORDER BY c.name %s LIMIT %d OFFSET %d`, base+clause, order, size, offset)

	var classes []models.ClassAvailability
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// Delete removes a class offering. Used by the schedule conflict resolver to
// drop duplicate offerings.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM classes WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}
