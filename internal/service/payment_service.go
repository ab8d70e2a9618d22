package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type paymentStore interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error)
	UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, accountingRecordID *string) error
}

type paymentEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

// OverrideResult reports a manual status override back to the caller.
type OverrideResult struct {
	Payment   models.Payment         `json:"payment"`
	Duplicate bool                   `json:"duplicate"`
	Outcomes  []models.IntentOutcome `json:"outcomes"`
}

// PaymentService serves payment reads, the manual status override and the
// accounting resync sweep.
type PaymentService struct {
	payments    paymentStore
	enrollments paymentEnrollmentStore
	engine      *TransitionEngine
	applier     decisionApplier
	dispatcher  intentDispatcher
	accounting  accountingSyncer
	logger      *zap.Logger
}

// NewPaymentService constructs the service.
func NewPaymentService(
	payments paymentStore,
	enrollments paymentEnrollmentStore,
	engine *TransitionEngine,
	applier decisionApplier,
	dispatcher intentDispatcher,
	accounting accountingSyncer,
	logger *zap.Logger,
) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewTransitionEngine()
	}
	return &PaymentService{
		payments:    payments,
		enrollments: enrollments,
		engine:      engine,
		applier:     applier,
		dispatcher:  dispatcher,
		accounting:  accounting,
		logger:      logger,
	}
}

// Get returns a payment with enrollment context.
func (s *PaymentService) Get(ctx context.Context, id string) (*models.PaymentDetail, error) {
	detail, err := s.payments.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return detail, nil
}

// List returns payments matching the filter.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error) {
	return s.payments.List(ctx, filter)
}

// SetStatus is the manual override: it feeds a manual_status_set event
// through the same engine and applier as the webhook path, so overrides obey
// the exact same transition rules. Setting the current status again is a
// no-op rather than an error.
func (s *PaymentService) SetStatus(ctx context.Context, paymentID string, target models.PaymentStatus) (*OverrideResult, error) {
	switch target {
	case models.PaymentStatusPending, models.PaymentStatusCompleted, models.PaymentStatusFailed, models.PaymentStatusRefunded:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment status")
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	enrollment, err := s.enrollments.FindByID(ctx, payment.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	event := models.PaymentEvent{Type: models.EventManualStatusSet, TargetStatus: target}
	decision, err := s.engine.Decide(*payment, *enrollment, event)
	if err != nil {
		return nil, err
	}
	if decision.Duplicate {
		return &OverrideResult{Payment: *payment, Duplicate: true}, nil
	}

	updatedPayment, updatedEnrollment, err := s.applier.Apply(ctx, *payment, *enrollment, decision, nil)
	if err != nil {
		return nil, err
	}
	outcomes := s.dispatcher.Dispatch(ctx, updatedPayment, updatedEnrollment, decision.Intents)
	return &OverrideResult{Payment: updatedPayment, Outcomes: outcomes}, nil
}

// ResyncFailed retries accounting sync for every payment stuck in
// SYNC_FAILED and returns how many synced successfully.
func (s *PaymentService) ResyncFailed(ctx context.Context) (int, int, error) {
	details, total, err := s.payments.List(ctx, models.PaymentFilter{
		SyncStatus: models.SyncStatusSyncFailed,
		PageSize:   100,
	})
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list unsynced payments")
	}

	synced := 0
	for _, detail := range details {
		kind := AccountingSyncPayment
		if detail.Status == models.PaymentStatusRefunded {
			kind = AccountingSyncRefund
		}
		recordID, err := s.accounting.SyncPayment(ctx, detail.Payment, kind)
		if err != nil {
			s.logger.Warn("resync attempt failed", zap.String("payment_id", detail.ID), zap.Error(err))
			continue
		}
		if err := s.payments.UpdateSyncStatus(ctx, detail.ID, models.SyncStatusSynced, &recordID); err != nil {
			s.logger.Error("failed to mark payment synced", zap.String("payment_id", detail.ID), zap.Error(err))
			continue
		}
		synced++
	}
	return synced, total, nil
}
