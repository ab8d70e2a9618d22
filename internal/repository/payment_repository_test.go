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

	"github.com/noah-isme/classreg-api/internal/models"
)

func newPaymentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func paymentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "enrollment_id", "amount", "refunded_total", "status", "external_transaction_id", "sync_status", "accounting_record_id", "created_at", "updated_at"}).
		AddRow("pay-1", "enr-1", int64(5000), int64(0), "COMPLETED", "cs_1", "SYNCED", nil, time.Now(), time.Now())
}

func TestPaymentRepositoryCreateDefaultsStatuses(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec("INSERT INTO payments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payment := models.Payment{EnrollmentID: "enr-1", Amount: 5000}
	err := repo.Create(context.Background(), &payment)
	require.NoError(t, err)
	assert.NotEmpty(t, payment.ID)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, models.SyncStatusUnsynced, payment.SyncStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryFindByExternalTransactionID(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, enrollment_id, amount, refunded_total, status, external_transaction_id, sync_status, accounting_record_id, created_at, updated_at FROM payments WHERE external_transaction_id = $1")).
		WithArgs("cs_1").
		WillReturnRows(paymentRows())

	payment, err := repo.FindByExternalTransactionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", payment.ID)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryFindByExternalTransactionIDNoRows(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery("SELECT .* FROM payments WHERE external_transaction_id").
		WithArgs("cs_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByExternalTransactionID(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPaymentRepositoryUpdateStateTxGuardsOnExpectedStatus(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = $2, refunded_total = $3, updated_at = $4 WHERE id = $1 AND status = $5")).
		WithArgs("pay-1", models.PaymentStatusRefunded, int64(5000), sqlmock.AnyArg(), models.PaymentStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	updated, err := repo.UpdateStateTx(context.Background(), tx, "pay-1", models.PaymentStatusRefunded, 5000, models.PaymentStatusCompleted)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.True(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryUpdateStateTxReportsConcurrentChange(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = $2, refunded_total = $3, updated_at = $4 WHERE id = $1 AND status = $5")).
		WithArgs("pay-1", models.PaymentStatusRefunded, int64(5000), sqlmock.AnyArg(), models.PaymentStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	updated, err := repo.UpdateStateTx(context.Background(), tx, "pay-1", models.PaymentStatusRefunded, 5000, models.PaymentStatusCompleted)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryUpdateSyncStatusKeepsRecordIDWhenNil(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET sync_status = $2, accounting_record_id = COALESCE($3, accounting_record_id), updated_at = $4 WHERE id = $1")).
		WithArgs("pay-1", models.SyncStatusSyncFailed, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateSyncStatus(context.Background(), "pay-1", models.SyncStatusSyncFailed, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryListFiltersBySyncStatus(t *testing.T) {
	db, mock, cleanup := newPaymentMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "amount", "refunded_total", "status", "external_transaction_id", "sync_status", "accounting_record_id", "created_at", "updated_at", "student_id", "student_name", "student_email", "class_id", "class_name"}).
		AddRow("pay-1", "enr-1", int64(5000), int64(0), "COMPLETED", "cs_1", "SYNC_FAILED", nil, time.Now(), time.Now(), "stu-1", "Alex Chen", "alex@example.com", "class-1", "Pottery 101")
	mock.ExpectQuery("SELECT p.id, p.enrollment_id, .* FROM payments p").
		WithArgs(models.SyncStatusSyncFailed).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(models.SyncStatusSyncFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	payments, total, err := repo.List(context.Background(), models.PaymentFilter{SyncStatus: models.SyncStatusSyncFailed})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "alex@example.com", payments[0].StudentEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}
