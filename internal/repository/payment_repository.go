package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classreg-api/internal/models"
)

// PaymentRepository handles persistence of payments. Payment rows are
// financial records and are never deleted.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, enrollment_id, amount, refunded_total, status, external_transaction_id, sync_status, accounting_record_id, created_at, updated_at`

// Create persists a new payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	if payment.SyncStatus == "" {
		payment.SyncStatus = models.SyncStatusUnsynced
	}
	const query = `INSERT INTO payments (id, enrollment_id, amount, refunded_total, status, external_transaction_id, sync_status, accounting_record_id, created_at, updated_at)
        VALUES (:id, :enrollment_id, :amount, :refunded_total, :status, :external_transaction_id, :sync_status, :accounting_record_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByExternalTransactionID returns the payment matching a gateway
// transaction identifier.
func (r *PaymentRepository) FindByExternalTransactionID(ctx context.Context, externalID string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE external_transaction_id = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, externalID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindDetailByID returns a payment with student and class context.
func (r *PaymentRepository) FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	const query = `SELECT p.id, p.enrollment_id, p.amount, p.refunded_total, p.status, p.external_transaction_id, p.sync_status, p.accounting_record_id, p.created_at, p.updated_at,
        e.student_id, s.full_name AS student_name, s.email AS student_email, e.class_id, c.name AS class_name
        FROM payments p
        JOIN enrollments e ON e.id = p.enrollment_id
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN classes c ON c.id = e.class_id
        WHERE p.id = $1`
	var detail models.PaymentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns payments filtered by the provided criteria.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error) {
	base := `FROM payments p
JOIN enrollments e ON e.id = p.enrollment_id
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN classes c ON c.id = e.class_id`
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("p.enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("p.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.SyncStatus != "" {
		conditions = append(conditions, fmt.Sprintf("p.sync_status = $%d", len(args)+1))
		args = append(args, filter.SyncStatus)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "p.created_at",
		"amount":     "p.amount",
		"status":     "p.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "p.created_at"
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

	query := fmt.Sprintf(`SELECT p.id, p.enrollment_id, p.amount, p.refunded_total, p.status, p.external_transaction_id, p.sync_status, p.accounting_record_id, p.created_at, p.updated_at,
        e.student_id, s.full_name AS student_name, s.email AS student_email, e.class_id, c.name AS class_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var payments []models.PaymentDetail
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// UpdateStateTx updates status and refunded total inside the caller's
// transaction scope. The update only matches while the row still carries the
// expected status; a false return means the payment transitioned under us and
// the caller must abort.
func (r *PaymentRepository) UpdateStateTx(ctx context.Context, exec sqlx.ExtContext, id string, status models.PaymentStatus, refundedTotal int64, expected models.PaymentStatus) (bool, error) {
	const query = `UPDATE payments SET status = $2, refunded_total = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	result, err := exec.ExecContext(ctx, query, id, status, refundedTotal, time.Now().UTC(), expected)
	if err != nil {
		return false, fmt.Errorf("update payment state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update payment state rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateSyncStatus records the outcome of an accounting sync attempt.
func (r *PaymentRepository) UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, accountingRecordID *string) error {
	const query = `UPDATE payments SET sync_status = $2, accounting_record_id = COALESCE($3, accounting_record_id), updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, accountingRecordID, time.Now().UTC()); err != nil {
		return fmt.Errorf("update payment sync status: %w", err)
	}
	return nil
}
