package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classreg-api/internal/models"
)

// StudentRepository provides read access to student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by its ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, email, active, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByIDs returns the students matching the provided IDs.
func (r *StudentRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.Student, error) {
	if len(ids) == 0 {
		return map[string]models.Student{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, full_name, email, active, created_at, updated_at FROM students WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build students query: %w", err)
	}
	query = r.db.Rebind(query)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("find students: %w", err)
	}
	result := make(map[string]models.Student, len(students))
	for _, s := range students {
		result[s.ID] = s
	}
	return result, nil
}
