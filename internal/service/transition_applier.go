package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type applierPaymentStore interface {
	UpdateStateTx(ctx context.Context, exec sqlx.ExtContext, id string, status models.PaymentStatus, refundedTotal int64, expected models.PaymentStatus) (bool, error)
}

type applierEnrollmentStore interface {
	UpdateStatusTx(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, waitlistPosition *int) error
}

type applierEventStore interface {
	CreateTx(ctx context.Context, exec sqlx.ExtContext, event *models.WebhookEvent) error
}

// TransitionApplier persists an engine decision. Both entry points (webhook
// ingress and the refund/override services) go through it, so the payment
// update, the enrollment update and the dedupe marker always commit in one
// transaction or not at all.
type TransitionApplier struct {
	db          *sqlx.DB
	payments    applierPaymentStore
	enrollments applierEnrollmentStore
	events      applierEventStore
	logger      *zap.Logger
}

// NewTransitionApplier constructs the applier.
func NewTransitionApplier(db *sqlx.DB, payments applierPaymentStore, enrollments applierEnrollmentStore, events applierEventStore, logger *zap.Logger) *TransitionApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitionApplier{db: db, payments: payments, enrollments: enrollments, events: events, logger: logger}
}

// Apply commits the decision and returns the updated pair. A non-nil event is
// recorded in the same transaction; for duplicate decisions only the event
// marker is written, state rows stay untouched.
func (a *TransitionApplier) Apply(ctx context.Context, payment models.Payment, enrollment models.Enrollment, decision Decision, event *models.WebhookEvent) (models.Payment, models.Enrollment, error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return payment, enrollment, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback()

	if !decision.Duplicate {
		// Conditional on the status the decision was computed against, so two
		// racing transitions (two admin refunds, an override racing a webhook)
		// cannot both commit.
		updated, err := a.payments.UpdateStateTx(ctx, tx, payment.ID, decision.PaymentStatus, decision.RefundedTotal, payment.Status)
		if err != nil {
			return payment, enrollment, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment")
		}
		if !updated {
			return payment, enrollment, appErrors.Clone(appErrors.ErrStateConflict, "payment state changed concurrently, transition aborted")
		}
		if decision.EnrollmentStatus != enrollment.Status {
			if err := a.enrollments.UpdateStatusTx(ctx, tx, enrollment.ID, decision.EnrollmentStatus, nil); err != nil {
				return payment, enrollment, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
			}
		}
	}
	if event != nil {
		if err := a.events.CreateTx(ctx, tx, event); err != nil {
			return payment, enrollment, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record webhook event")
		}
	}
	if err := tx.Commit(); err != nil {
		return payment, enrollment, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
	}

	if !decision.Duplicate {
		payment.Status = decision.PaymentStatus
		payment.RefundedTotal = decision.RefundedTotal
		enrollment.Status = decision.EnrollmentStatus
	}
	return payment, enrollment, nil
}
