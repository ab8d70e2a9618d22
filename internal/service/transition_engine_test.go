package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

func pendingPair() (models.Payment, models.Enrollment) {
	payment := models.Payment{
		ID:           "pay-1",
		EnrollmentID: "enr-1",
		Amount:       5000,
		Status:       models.PaymentStatusPending,
	}
	enrollment := models.Enrollment{
		ID:      "enr-1",
		ClassID: "class-1",
		Status:  models.EnrollmentStatusPending,
	}
	return payment, enrollment
}

func completedPair() (models.Payment, models.Enrollment) {
	payment, enrollment := pendingPair()
	payment.Status = models.PaymentStatusCompleted
	enrollment.Status = models.EnrollmentStatusConfirmed
	return payment, enrollment
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, code, appErr.Code)
}

func TestDecideChargeSucceededConfirms(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := pendingPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventChargeSucceeded, Amount: 5000})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, decision.PaymentStatus)
	assert.Equal(t, models.EnrollmentStatusConfirmed, decision.EnrollmentStatus)
	assert.False(t, decision.Duplicate)
	require.Len(t, decision.Intents, 2)
	assert.Equal(t, models.IntentSyncAccounting, decision.Intents[0].Type)
	assert.Equal(t, models.IntentSendConfirmationEmail, decision.Intents[1].Type)
}

func TestDecideChargeSucceededDuplicateIsNoOp(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventChargeSucceeded})
	require.NoError(t, err)

	assert.True(t, decision.Duplicate)
	assert.Empty(t, decision.Intents)
	assert.Equal(t, models.PaymentStatusCompleted, decision.PaymentStatus)
}

func TestDecideChargeSucceededOnTerminalPaymentConflicts(t *testing.T) {
	engine := NewTransitionEngine()

	for _, status := range []models.PaymentStatus{models.PaymentStatusRefunded, models.PaymentStatusFailed} {
		payment, enrollment := pendingPair()
		payment.Status = status

		_, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventChargeSucceeded})
		assertErrorCode(t, err, appErrors.ErrStateConflict.Code)
	}
}

func TestDecideFullRefundCancelsAndReleasesSeat(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventRefundIssued, Amount: 5000})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusRefunded, decision.PaymentStatus)
	assert.Equal(t, models.EnrollmentStatusCancelled, decision.EnrollmentStatus)
	assert.Equal(t, int64(5000), decision.RefundedTotal)
	require.Len(t, decision.Intents, 2)
	assert.Equal(t, models.IntentReleaseSeat, decision.Intents[0].Type)
	assert.Equal(t, "class-1", decision.Intents[0].ClassID)
	assert.Equal(t, models.IntentSyncRefund, decision.Intents[1].Type)
}

func TestDecideZeroAmountRefundIsFull(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventRefundIssued, Amount: 0})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusRefunded, decision.PaymentStatus)
	assert.Equal(t, int64(5000), decision.RefundedTotal)
}

func TestDecidePartialRefundKeepsEnrollment(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventRefundIssued, Amount: 2000})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, decision.PaymentStatus)
	assert.Equal(t, models.EnrollmentStatusConfirmed, decision.EnrollmentStatus)
	assert.Equal(t, int64(2000), decision.RefundedTotal)
	require.Len(t, decision.Intents, 1)
	assert.Equal(t, models.IntentSyncPartialRefund, decision.Intents[0].Type)
	assert.Equal(t, int64(2000), decision.Intents[0].Amount)
}

func TestDecidePartialRefundExhaustingBalanceBecomesFull(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()
	payment.RefundedTotal = 3000

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventRefundIssued, Amount: 2000})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusRefunded, decision.PaymentStatus)
	assert.Equal(t, models.EnrollmentStatusCancelled, decision.EnrollmentStatus)
	assert.Equal(t, int64(5000), decision.RefundedTotal)
}

func TestDecideRefundOverRemainingBalanceRejected(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()
	payment.RefundedTotal = 4000

	_, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventRefundIssued, Amount: 2000})
	assertErrorCode(t, err, appErrors.ErrPreconditionFailed.Code)
}

func TestDecideRefundOnNonCompletedPaymentConflicts(t *testing.T) {
	engine := NewTransitionEngine()

	for _, status := range []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusFailed, models.PaymentStatusRefunded} {
		payment, enrollment := pendingPair()
		payment.Status = status

		_, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventRefundIssued, Amount: 1000})
		assertErrorCode(t, err, appErrors.ErrStateConflict.Code)
	}
}

func TestDecideManualCompleteRequiresCapacityCheck(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := pendingPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventManualStatusSet, TargetStatus: models.PaymentStatusCompleted})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, decision.PaymentStatus)
	require.Len(t, decision.Intents, 1)
	assert.Equal(t, models.IntentConfirmEnrollment, decision.Intents[0].Type)
	assert.Equal(t, "class-1", decision.Intents[0].ClassID)
}

func TestDecideManualFailCancelsEnrollment(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := pendingPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventManualStatusSet, TargetStatus: models.PaymentStatusFailed})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusFailed, decision.PaymentStatus)
	assert.Equal(t, models.EnrollmentStatusCancelled, decision.EnrollmentStatus)
	require.Len(t, decision.Intents, 1)
	assert.Equal(t, models.IntentReleaseSeat, decision.Intents[0].Type)
}

func TestDecideManualRefundFromCompleted(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventManualStatusSet, TargetStatus: models.PaymentStatusRefunded})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusRefunded, decision.PaymentStatus)
	assert.Equal(t, models.EnrollmentStatusCancelled, decision.EnrollmentStatus)
	assert.Equal(t, int64(5000), decision.RefundedTotal)
}

func TestDecideManualSameStatusIsDuplicate(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := completedPair()

	decision, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventManualStatusSet, TargetStatus: models.PaymentStatusCompleted})
	require.NoError(t, err)

	assert.True(t, decision.Duplicate)
	assert.Empty(t, decision.Intents)
}

func TestDecideManualOnTerminalPaymentConflicts(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := pendingPair()
	payment.Status = models.PaymentStatusRefunded

	_, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventManualStatusSet, TargetStatus: models.PaymentStatusCompleted})
	assertErrorCode(t, err, appErrors.ErrStateConflict.Code)
}

func TestDecideManualSkippingStatesConflicts(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := pendingPair()

	_, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: models.EventManualStatusSet, TargetStatus: models.PaymentStatusRefunded})
	assertErrorCode(t, err, appErrors.ErrStateConflict.Code)
}

func TestDecideUnknownEventTypeRejected(t *testing.T) {
	engine := NewTransitionEngine()
	payment, enrollment := pendingPair()

	_, err := engine.Decide(payment, enrollment, models.PaymentEvent{Type: "made_up"})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}
