package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classreg-api/internal/models"
)

// BlockRepository handles persistence of teacher-initiated student blocks.
type BlockRepository struct {
	db *sqlx.DB
}

// NewBlockRepository constructs the repository.
func NewBlockRepository(db *sqlx.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Create persists a new block.
func (r *BlockRepository) Create(ctx context.Context, block *models.ClassBlock) error {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO class_blocks (id, teacher_id, student_id, reason, created_at)
        VALUES (:id, :teacher_id, :student_id, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, block); err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

// Exists reports whether the teacher has an active block against the student.
func (r *BlockRepository) Exists(ctx context.Context, teacherID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM class_blocks WHERE teacher_id = $1 AND student_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, teacherID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check block: %w", err)
	}
	return true, nil
}

// BlockedStudentIDs returns the set of students blocked by the teacher.
func (r *BlockRepository) BlockedStudentIDs(ctx context.Context, teacherID string) (map[string]bool, error) {
	const query = `SELECT student_id FROM class_blocks WHERE teacher_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, teacherID); err != nil {
		return nil, fmt.Errorf("list blocked students: %w", err)
	}
	blocked := make(map[string]bool, len(ids))
	for _, id := range ids {
		blocked[id] = true
	}
	return blocked, nil
}

// Delete removes a block, restoring the student's waitlist eligibility.
func (r *BlockRepository) Delete(ctx context.Context, teacherID, studentID string) error {
	const query = `DELETE FROM class_blocks WHERE teacher_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, teacherID, studentID); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}
