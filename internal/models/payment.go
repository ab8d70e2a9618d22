package models

import "time"

// PaymentStatus represents the lifecycle of a payment.
type PaymentStatus string

// Payment statuses. REFUNDED and FAILED are terminal; a retried charge
// creates a new payment row.
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// SyncStatus tracks propagation of a payment to the accounting system.
type SyncStatus string

// Accounting sync statuses.
const (
	SyncStatusUnsynced   SyncStatus = "UNSYNCED"
	SyncStatusSynced     SyncStatus = "SYNCED"
	SyncStatusSyncFailed SyncStatus = "SYNC_FAILED"
)

// Payment represents one monetary transaction tied to exactly one enrollment.
// Amounts are minor currency units. Rows are never deleted.
type Payment struct {
	ID                    string        `db:"id" json:"id"`
	EnrollmentID          string        `db:"enrollment_id" json:"enrollment_id"`
	Amount                int64         `db:"amount" json:"amount"`
	RefundedTotal         int64         `db:"refunded_total" json:"refunded_total"`
	Status                PaymentStatus `db:"status" json:"status"`
	ExternalTransactionID string        `db:"external_transaction_id" json:"external_transaction_id"`
	SyncStatus            SyncStatus    `db:"sync_status" json:"sync_status"`
	AccountingRecordID    *string       `db:"accounting_record_id" json:"accounting_record_id,omitempty"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether no further status transition is permitted.
func (p Payment) IsTerminal() bool {
	return p.Status == PaymentStatusRefunded || p.Status == PaymentStatusFailed
}

// RemainingRefundable returns the balance still eligible for refund.
func (p Payment) RemainingRefundable() int64 {
	remaining := p.Amount - p.RefundedTotal
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PaymentDetail enriches Payment with enrollment context.
type PaymentDetail struct {
	Payment
	StudentID    string `db:"student_id" json:"student_id"`
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
	ClassID      string `db:"class_id" json:"class_id"`
	ClassName    string `db:"class_name" json:"class_name"`
}

// PaymentFilter provides filters for listing payments.
type PaymentFilter struct {
	EnrollmentID string
	Status       PaymentStatus
	SyncStatus   SyncStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
