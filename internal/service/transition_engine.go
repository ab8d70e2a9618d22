package service

import (
	"fmt"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

// Decision is the engine's output: the resulting payment/enrollment state
// plus the side effects to dispatch. The engine never executes side effects
// and never touches storage; callers persist the decision transactionally
// and hand the intents to the dispatcher.
type Decision struct {
	PaymentStatus    models.PaymentStatus
	EnrollmentStatus models.EnrollmentStatus
	RefundedTotal    int64
	Intents          []models.Intent
	// Duplicate marks an exact redelivery: state is unchanged and nothing
	// needs persisting or dispatching.
	Duplicate bool
}

// TransitionEngine is the authoritative state machine for a single
// payment/enrollment pair. Both the webhook path and the refund orchestrator
// feed events through it, so the two entry points cannot disagree on rules.
type TransitionEngine struct{}

// NewTransitionEngine constructs the engine.
func NewTransitionEngine() *TransitionEngine {
	return &TransitionEngine{}
}

// Decide applies one event to the current pair and returns the new state
// plus intents. Events that conflict with a terminal payment state are
// rejected with STATE_CONFLICT; exact duplicates are acknowledged as no-ops.
func (e *TransitionEngine) Decide(payment models.Payment, enrollment models.Enrollment, event models.PaymentEvent) (Decision, error) {
	current := Decision{
		PaymentStatus:    payment.Status,
		EnrollmentStatus: enrollment.Status,
		RefundedTotal:    payment.RefundedTotal,
	}

	switch event.Type {
	case models.EventChargeSucceeded:
		return e.decideChargeSucceeded(payment, current)
	case models.EventRefundIssued:
		return e.decideRefundIssued(payment, enrollment, event, current)
	case models.EventManualStatusSet:
		return e.decideManualStatusSet(payment, enrollment, event, current)
	default:
		return current, appErrors.Wrap(fmt.Errorf("event type %q", event.Type), appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unknown payment event type")
	}
}

func (e *TransitionEngine) decideChargeSucceeded(payment models.Payment, current Decision) (Decision, error) {
	switch payment.Status {
	case models.PaymentStatusCompleted:
		// Duplicate webhook delivery: same state, zero intents.
		current.Duplicate = true
		return current, nil
	case models.PaymentStatusPending:
		current.PaymentStatus = models.PaymentStatusCompleted
		current.EnrollmentStatus = models.EnrollmentStatusConfirmed
		current.Intents = []models.Intent{
			{Type: models.IntentSyncAccounting},
			{Type: models.IntentSendConfirmationEmail},
		}
		return current, nil
	default:
		return current, stateConflict(payment.Status, models.EventChargeSucceeded)
	}
}

func (e *TransitionEngine) decideRefundIssued(payment models.Payment, enrollment models.Enrollment, event models.PaymentEvent, current Decision) (Decision, error) {
	if payment.Status != models.PaymentStatusCompleted {
		return current, stateConflict(payment.Status, models.EventRefundIssued)
	}

	amount := event.Amount
	remaining := payment.RemainingRefundable()
	if amount > remaining {
		return current, appErrors.Clone(appErrors.ErrPreconditionFailed, "refund amount exceeds remaining refundable balance")
	}

	// Canonical rule: a refund is full when the amount is omitted or covers
	// the entire remaining balance; only full refunds free the seat.
	scope := event.Scope
	if scope == "" {
		if amount == 0 || amount >= remaining {
			scope = models.RefundScopeFull
		} else {
			scope = models.RefundScopePartial
		}
	}

	if scope == models.RefundScopeFull {
		current.PaymentStatus = models.PaymentStatusRefunded
		current.EnrollmentStatus = models.EnrollmentStatusCancelled
		current.RefundedTotal = payment.Amount
		current.Intents = []models.Intent{
			{Type: models.IntentReleaseSeat, ClassID: enrollment.ClassID},
			{Type: models.IntentSyncRefund, Amount: remaining},
		}
		return current, nil
	}

	current.RefundedTotal = payment.RefundedTotal + amount
	current.Intents = []models.Intent{
		{Type: models.IntentSyncPartialRefund, Amount: amount},
	}
	return current, nil
}

func (e *TransitionEngine) decideManualStatusSet(payment models.Payment, enrollment models.Enrollment, event models.PaymentEvent, current Decision) (Decision, error) {
	target := event.TargetStatus
	if target == payment.Status {
		current.Duplicate = true
		return current, nil
	}
	if payment.IsTerminal() {
		return current, stateConflict(payment.Status, models.EventManualStatusSet)
	}

	switch {
	case target == models.PaymentStatusCompleted && payment.Status == models.PaymentStatusPending:
		current.PaymentStatus = models.PaymentStatusCompleted
		current.Intents = []models.Intent{
			{Type: models.IntentConfirmEnrollment, ClassID: enrollment.ClassID},
		}
		return current, nil
	case target == models.PaymentStatusFailed && payment.Status == models.PaymentStatusPending:
		current.PaymentStatus = models.PaymentStatusFailed
		current.EnrollmentStatus = models.EnrollmentStatusCancelled
		current.Intents = []models.Intent{
			{Type: models.IntentReleaseSeat, ClassID: enrollment.ClassID},
		}
		return current, nil
	case target == models.PaymentStatusRefunded && payment.Status == models.PaymentStatusCompleted:
		current.PaymentStatus = models.PaymentStatusRefunded
		current.EnrollmentStatus = models.EnrollmentStatusCancelled
		current.RefundedTotal = payment.Amount
		current.Intents = []models.Intent{
			{Type: models.IntentReleaseSeat, ClassID: enrollment.ClassID},
		}
		return current, nil
	default:
		return current, stateConflict(payment.Status, models.EventManualStatusSet)
	}
}

func stateConflict(status models.PaymentStatus, event models.EventType) *appErrors.Error {
	return appErrors.Wrap(
		fmt.Errorf("payment status %s, event %s", status, event),
		appErrors.ErrStateConflict.Code,
		appErrors.ErrStateConflict.Status,
		appErrors.ErrStateConflict.Message,
	)
}
