package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type mockPaymentStore struct {
	payment     *models.Payment
	details     []models.PaymentDetail
	statusCalls []syncStatusCall
	updateErr   error
}

func (m *mockPaymentStore) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	if m.payment == nil || m.payment.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *m.payment
	return &copied, nil
}

func (m *mockPaymentStore) FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	for _, detail := range m.details {
		if detail.ID == id {
			copied := detail
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentStore) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error) {
	return m.details, len(m.details), nil
}

func (m *mockPaymentStore) UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, accountingRecordID *string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.statusCalls = append(m.statusCalls, syncStatusCall{paymentID: id, status: status, recordID: accountingRecordID})
	return nil
}

type mockPaymentEnrollmentStore struct {
	enrollment *models.Enrollment
}

func (m *mockPaymentEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if m.enrollment == nil {
		return nil, sql.ErrNoRows
	}
	copied := *m.enrollment
	return &copied, nil
}

type paymentFixture struct {
	service     *PaymentService
	payments    *mockPaymentStore
	enrollments *mockPaymentEnrollmentStore
	applier     *mockApplier
	dispatcher  *mockDispatcher
	accounting  *mockAccounting
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		payments: &mockPaymentStore{
			payment: &models.Payment{ID: "pay-1", EnrollmentID: "enr-1", Amount: 5000, Status: models.PaymentStatusPending},
		},
		enrollments: &mockPaymentEnrollmentStore{
			enrollment: &models.Enrollment{ID: "enr-1", ClassID: "class-1", Status: models.EnrollmentStatusPending},
		},
		applier:    &mockApplier{},
		dispatcher: &mockDispatcher{},
		accounting: &mockAccounting{},
	}
	f.service = NewPaymentService(
		f.payments, f.enrollments, NewTransitionEngine(),
		f.applier, f.dispatcher, f.accounting, zap.NewNop(),
	)
	return f
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	f := newPaymentFixture()

	_, err := f.service.SetStatus(context.Background(), "pay-1", "EXPLODED")

	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSetStatusUnknownPaymentIsNotFound(t *testing.T) {
	f := newPaymentFixture()

	_, err := f.service.SetStatus(context.Background(), "pay-missing", models.PaymentStatusCompleted)

	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSetStatusSameStatusIsDuplicateNoOp(t *testing.T) {
	f := newPaymentFixture()

	result, err := f.service.SetStatus(context.Background(), "pay-1", models.PaymentStatusPending)
	require.NoError(t, err)

	assert.True(t, result.Duplicate)
	assert.Empty(t, f.applier.calls)
	assert.Empty(t, f.dispatcher.calls)
}

func TestSetStatusCompleteDispatchesConfirmIntent(t *testing.T) {
	f := newPaymentFixture()

	result, err := f.service.SetStatus(context.Background(), "pay-1", models.PaymentStatusCompleted)
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, models.PaymentStatusCompleted, result.Payment.Status)
	require.Len(t, f.applier.calls, 1)
	// Manual overrides carry no provider event to record.
	assert.Nil(t, f.applier.calls[0].record)
	require.Len(t, f.dispatcher.calls, 1)
	require.Len(t, f.dispatcher.calls[0], 1)
	assert.Equal(t, models.IntentConfirmEnrollment, f.dispatcher.calls[0][0].Type)
}

func TestSetStatusOnTerminalPaymentConflicts(t *testing.T) {
	f := newPaymentFixture()
	f.payments.payment.Status = models.PaymentStatusFailed

	_, err := f.service.SetStatus(context.Background(), "pay-1", models.PaymentStatusCompleted)

	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.applier.calls)
}

func TestResyncFailedSyncsAndMarksPayments(t *testing.T) {
	f := newPaymentFixture()
	f.payments.details = []models.PaymentDetail{
		{Payment: models.Payment{ID: "pay-1", Status: models.PaymentStatusCompleted, SyncStatus: models.SyncStatusSyncFailed}},
		{Payment: models.Payment{ID: "pay-2", Status: models.PaymentStatusRefunded, SyncStatus: models.SyncStatusSyncFailed}},
	}

	synced, total, err := f.service.ResyncFailed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, synced)
	assert.Equal(t, 2, total)
	require.Len(t, f.accounting.calls, 2)
	assert.Equal(t, AccountingSyncPayment, f.accounting.calls[0].kind)
	assert.Equal(t, AccountingSyncRefund, f.accounting.calls[1].kind)
	require.Len(t, f.payments.statusCalls, 2)
	assert.Equal(t, models.SyncStatusSynced, f.payments.statusCalls[0].status)
}

func TestResyncFailedSkipsPaymentsThatStillFail(t *testing.T) {
	f := newPaymentFixture()
	f.accounting.err = errors.New("accounting still down")
	f.payments.details = []models.PaymentDetail{
		{Payment: models.Payment{ID: "pay-1", Status: models.PaymentStatusCompleted, SyncStatus: models.SyncStatusSyncFailed}},
	}

	synced, total, err := f.service.ResyncFailed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, synced)
	assert.Equal(t, 1, total)
	assert.Empty(t, f.payments.statusCalls)
}

func TestGetUnknownPaymentIsNotFound(t *testing.T) {
	f := newPaymentFixture()

	_, err := f.service.Get(context.Background(), "pay-missing")

	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
