package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type refundGateway interface {
	IssueRefund(ctx context.Context, externalTransactionID string, amount int64) (*GatewayRefund, error)
}

type refundPaymentStore interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByExternalTransactionID(ctx context.Context, externalID string) (*models.Payment, error)
	FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error)
}

type refundEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type refundNotifier interface {
	QueueRefundEmail(detail models.PaymentDetail, amount int64) error
}

// RefundRequest identifies the payment by internal id or gateway transaction
// id. A zero amount means a full refund of the remaining balance.
type RefundRequest struct {
	PaymentID             string `json:"paymentId"`
	ExternalTransactionID string `json:"externalTransactionId"`
	Amount                int64  `json:"amount"`
	Reason                string `json:"reason"`
}

// RefundResult reports a processed refund back to the caller.
type RefundResult struct {
	Payment  models.Payment         `json:"payment"`
	Scope    models.RefundScope     `json:"scope"`
	Amount   int64                  `json:"amount"`
	Reason   string                 `json:"reason,omitempty"`
	Outcomes []models.IntentOutcome `json:"outcomes"`
}

// RefundService is the admin-initiated refund flow. The order is strict:
// validate against current state, then call the gateway, then commit. A
// gateway failure or timeout leaves the payment untouched, so a refund is
// never recorded without confirmed gateway success.
type RefundService struct {
	payments    refundPaymentStore
	enrollments refundEnrollmentStore
	gateway     refundGateway
	engine      *TransitionEngine
	applier     decisionApplier
	dispatcher  intentDispatcher
	notifier    refundNotifier
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewRefundService constructs the refund orchestrator.
func NewRefundService(
	payments refundPaymentStore,
	enrollments refundEnrollmentStore,
	gateway refundGateway,
	engine *TransitionEngine,
	applier decisionApplier,
	dispatcher intentDispatcher,
	notifier refundNotifier,
	metrics *MetricsService,
	logger *zap.Logger,
) *RefundService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewTransitionEngine()
	}
	return &RefundService{
		payments:    payments,
		enrollments: enrollments,
		gateway:     gateway,
		engine:      engine,
		applier:     applier,
		dispatcher:  dispatcher,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// Refund issues a refund for the payment. An amount covering the whole
// remaining balance is treated as full.
func (s *RefundService) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.Amount < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "refund amount cannot be negative")
	}
	amount := req.Amount

	payment, err := s.loadPayment(ctx, req)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.enrollments.FindByID(ctx, payment.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	event := models.PaymentEvent{Type: models.EventRefundIssued, Amount: amount}
	decision, err := s.engine.Decide(*payment, *enrollment, event)
	if err != nil {
		s.metrics.RecordRefund("unknown", "rejected")
		return nil, err
	}

	scope := models.RefundScopePartial
	refunded := amount
	if decision.PaymentStatus == models.PaymentStatusRefunded {
		scope = models.RefundScopeFull
		refunded = payment.RemainingRefundable()
	}

	if _, err := s.gateway.IssueRefund(ctx, payment.ExternalTransactionID, refunded); err != nil {
		s.logger.Error("gateway refund failed, payment state unchanged",
			zap.String("payment_id", payment.ID),
			zap.Int64("amount", refunded),
			zap.Error(err),
		)
		s.metrics.RecordRefund(string(scope), "gateway_failed")
		return nil, err
	}

	updatedPayment, updatedEnrollment, err := s.applier.Apply(ctx, *payment, *enrollment, decision, nil)
	if err != nil {
		return nil, err
	}
	outcomes := s.dispatcher.Dispatch(ctx, updatedPayment, updatedEnrollment, decision.Intents)
	s.metrics.RecordRefund(string(scope), "succeeded")
	s.logger.Info("refund processed",
		zap.String("payment_id", payment.ID),
		zap.String("scope", string(scope)),
		zap.Int64("amount", refunded),
		zap.String("reason", req.Reason),
	)

	if detail, detailErr := s.payments.FindDetailByID(ctx, payment.ID); detailErr == nil {
		if err := s.notifier.QueueRefundEmail(*detail, refunded); err != nil {
			s.logger.Warn("failed to queue refund email", zap.String("payment_id", payment.ID), zap.Error(err))
		}
	}

	return &RefundResult{
		Payment:  updatedPayment,
		Scope:    scope,
		Amount:   refunded,
		Reason:   req.Reason,
		Outcomes: outcomes,
	}, nil
}

func (s *RefundService) loadPayment(ctx context.Context, req RefundRequest) (*models.Payment, error) {
	var payment *models.Payment
	var err error
	switch {
	case req.PaymentID != "":
		payment, err = s.payments.FindByID(ctx, req.PaymentID)
	case req.ExternalTransactionID != "":
		payment, err = s.payments.FindByExternalTransactionID(ctx, req.ExternalTransactionID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "paymentId or externalTransactionId is required")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return payment, nil
}
