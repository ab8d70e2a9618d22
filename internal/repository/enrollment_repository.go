package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classreg-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, class_id, student_id, status, waitlist_position, created_at, updated_at`

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, class_id, student_id, status, waitlist_position, created_at, updated_at)
        VALUES (:id, :class_id, :student_id, :status, :waitlist_position, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.class_id, e.student_id, e.status, e.waitlist_position, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS class_name, c.teacher_id
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN classes c ON c.id = e.class_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindActiveByClassAndStudent returns the student's non-cancelled enrollment
// for a class, if any.
func (r *EnrollmentRepository) FindActiveByClassAndStudent(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE class_id = $1 AND student_id = $2 AND status <> $3 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, classID, studentID, models.EnrollmentStatusCancelled); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsActive checks whether the student already holds a non-cancelled
// enrollment for the class.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, classID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE class_id = $1 AND student_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, classID, studentID, models.EnrollmentStatusCancelled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// CountConfirmedByClass recomputes the confirmed-seat count from source rows.
// Callers gating a mutation must pass their transaction as exec so the count
// and the mutation share one transactional view.
func (r *EnrollmentRepository) CountConfirmedByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error) {
	if exec == nil {
		exec = r.db
	}
	const query = `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2`
	row := exec.QueryRowxContext(ctx, query, classID, models.EnrollmentStatusConfirmed)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count confirmed enrollments: %w", err)
	}
	return count, nil
}

// UpdateStatusTx updates status and waitlist position inside the caller's
// transaction scope.
func (r *EnrollmentRepository) UpdateStatusTx(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, waitlistPosition *int) error {
	if exec == nil {
		exec = r.db
	}
	const query = `UPDATE enrollments SET status = $2, waitlist_position = $3, updated_at = $4 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, status, waitlistPosition, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// ListActiveByStudentAndTeacher returns the student's non-cancelled
// enrollments across all classes taught by the teacher.
func (r *EnrollmentRepository) ListActiveByStudentAndTeacher(ctx context.Context, studentID, teacherID string) ([]models.Enrollment, error) {
	const query = `SELECT e.id, e.class_id, e.student_id, e.status, e.waitlist_position, e.created_at, e.updated_at
        FROM enrollments e
        JOIN classes c ON c.id = e.class_id
        WHERE e.student_id = $1 AND c.teacher_id = $2 AND e.status <> $3`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, teacherID, models.EnrollmentStatusCancelled); err != nil {
		return nil, fmt.Errorf("list enrollments by teacher: %w", err)
	}
	return enrollments, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN classes c ON c.id = e.class_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "s.full_name",
		"class_name":   "c.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT e.id, e.class_id, e.student_id, e.status, e.waitlist_position, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS class_name, c.teacher_id
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}
