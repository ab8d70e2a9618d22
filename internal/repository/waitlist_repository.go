package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classreg-api/internal/models"
)

// WaitlistRepository handles persistence of waitlist entries.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// MaxPosition returns the highest position currently on the class's
// waitlist, zero when the waitlist is empty.
func (r *WaitlistRepository) MaxPosition(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE class_id = $1`
	var max int
	if err := r.db.GetContext(ctx, &max, query, classID); err != nil {
		return 0, fmt.Errorf("max waitlist position: %w", err)
	}
	return max, nil
}

// Create persists a new waitlist entry.
func (r *WaitlistRepository) Create(ctx context.Context, entry *models.WaitlistEntry) error {
	return r.CreateTx(ctx, nil, entry)
}

// CreateTx persists the entry inside the caller's transaction scope; a nil
// exec falls back to the repository's own connection.
func (r *WaitlistRepository) CreateTx(ctx context.Context, exec sqlx.ExtContext, entry *models.WaitlistEntry) error {
	if exec == nil {
		exec = r.db
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO waitlist_entries (id, class_id, student_id, position, created_at)
        VALUES (:id, :class_id, :student_id, :position, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, entry); err != nil {
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

// ListByClassOrdered returns the class's waitlist ordered by ascending
// position (longest waiting first).
func (r *WaitlistRepository) ListByClassOrdered(ctx context.Context, classID string) ([]models.WaitlistEntry, error) {
	const query = `SELECT id, class_id, student_id, position, created_at FROM waitlist_entries WHERE class_id = $1 ORDER BY position ASC`
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, classID); err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	return entries, nil
}

// Delete removes a waitlist entry and reports whether a row was deleted.
// The second return lets promotion verify removal happened exactly once.
func (r *WaitlistRepository) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM waitlist_entries WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete waitlist entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete waitlist entry rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteByClassAndStudent removes the student's entry from a class waitlist
// if present.
func (r *WaitlistRepository) DeleteByClassAndStudent(ctx context.Context, classID, studentID string) error {
	const query = `DELETE FROM waitlist_entries WHERE class_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, classID, studentID); err != nil {
		return fmt.Errorf("delete waitlist entry by student: %w", err)
	}
	return nil
}
