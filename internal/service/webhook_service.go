package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

// Webhook processing outcomes used for metrics labels.
const (
	webhookOutcomeProcessed = "processed"
	webhookOutcomeDuplicate = "duplicate"
	webhookOutcomeIgnored   = "ignored"
	webhookOutcomeRejected  = "rejected"
)

type signatureVerifier interface {
	Verify(header string, body []byte) error
}

type dedupeCache interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type webhookEventStore interface {
	Exists(ctx context.Context, providerEventID string) (bool, error)
}

type webhookPaymentStore interface {
	FindByExternalTransactionID(ctx context.Context, externalID string) (*models.Payment, error)
}

type webhookEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type decisionApplier interface {
	Apply(ctx context.Context, payment models.Payment, enrollment models.Enrollment, decision Decision, event *models.WebhookEvent) (models.Payment, models.Enrollment, error)
}

type intentDispatcher interface {
	Dispatch(ctx context.Context, payment models.Payment, enrollment models.Enrollment, intents []models.Intent) []models.IntentOutcome
}

// WebhookService is the ingress pipeline for provider events: verify the
// signature, dedupe, translate the envelope into an engine event, apply the
// decision durably, then dispatch side effects. The caller acknowledges the
// delivery only after Apply committed; a dispatch failure after that point
// never turns the acknowledgement into an error, redelivery would just dedupe.
type WebhookService struct {
	verifier    signatureVerifier
	cache       dedupeCache
	events      webhookEventStore
	payments    webhookPaymentStore
	enrollments webhookEnrollmentStore
	engine      *TransitionEngine
	applier     decisionApplier
	dispatcher  intentDispatcher
	dedupeTTL   time.Duration
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewWebhookService constructs the ingress pipeline.
func NewWebhookService(
	verifier signatureVerifier,
	cache dedupeCache,
	events webhookEventStore,
	payments webhookPaymentStore,
	enrollments webhookEnrollmentStore,
	engine *TransitionEngine,
	applier decisionApplier,
	dispatcher intentDispatcher,
	dedupeTTL time.Duration,
	metrics *MetricsService,
	logger *zap.Logger,
) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewTransitionEngine()
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	return &WebhookService{
		verifier:    verifier,
		cache:       cache,
		events:      events,
		payments:    payments,
		enrollments: enrollments,
		engine:      engine,
		applier:     applier,
		dispatcher:  dispatcher,
		dedupeTTL:   dedupeTTL,
		metrics:     metrics,
		logger:      logger,
	}
}

// HandleEvent processes one raw webhook delivery. A nil return means the
// delivery may be acknowledged; duplicates and unhandled event types are
// acknowledged no-ops.
func (s *WebhookService) HandleEvent(ctx context.Context, body []byte, signatureHeader string) error {
	if err := s.verifier.Verify(signatureHeader, body); err != nil {
		s.metrics.RecordWebhookEvent("unknown", webhookOutcomeRejected)
		return appErrors.Wrap(err, appErrors.ErrInvalidSignature.Code, appErrors.ErrInvalidSignature.Status, appErrors.ErrInvalidSignature.Message)
	}

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.metrics.RecordWebhookEvent("unknown", webhookOutcomeRejected)
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed webhook payload")
	}
	if envelope.ID == "" {
		s.metrics.RecordWebhookEvent(envelope.Type, webhookOutcomeRejected)
		return appErrors.Clone(appErrors.ErrValidation, "webhook event is missing an id")
	}

	duplicate, err := s.isDuplicate(ctx, envelope.ID)
	if err != nil {
		return err
	}
	if duplicate {
		s.logger.Info("duplicate webhook event acknowledged", zap.String("event_id", envelope.ID), zap.String("type", envelope.Type))
		s.metrics.RecordWebhookEvent(envelope.Type, webhookOutcomeDuplicate)
		return nil
	}

	switch envelope.Type {
	case models.ProviderEventCheckoutCompleted:
		err = s.handleCheckoutCompleted(ctx, envelope)
	case models.ProviderEventChargeRefunded:
		err = s.handleChargeRefunded(ctx, envelope)
	default:
		// Unhandled event types are acknowledged without processing so the
		// provider stops redelivering them.
		s.logger.Debug("ignoring unhandled webhook event type", zap.String("event_id", envelope.ID), zap.String("type", envelope.Type))
		s.metrics.RecordWebhookEvent(envelope.Type, webhookOutcomeIgnored)
		return nil
	}

	if err != nil {
		s.metrics.RecordWebhookEvent(envelope.Type, webhookOutcomeRejected)
		return err
	}
	s.metrics.RecordWebhookEvent(envelope.Type, webhookOutcomeProcessed)
	return nil
}

// isDuplicate consults the Redis fast path first, then the webhook_events
// table. A fast-path hit alone is not trusted: a marker left behind by an
// attempt that died before committing must not suppress the redelivery.
func (s *WebhookService) isDuplicate(ctx context.Context, eventID string) (bool, error) {
	fresh, err := s.cache.SetNX(ctx, "webhook:event:"+eventID, s.dedupeTTL)
	if err != nil {
		s.logger.Warn("webhook dedupe cache unavailable", zap.Error(err))
		fresh = false
	}
	if fresh {
		return false, nil
	}
	exists, err := s.events.Exists(ctx, eventID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check webhook event")
	}
	return exists, nil
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, envelope models.WebhookEnvelope) error {
	var session models.CheckoutSessionObject
	if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed checkout session object")
	}
	if session.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "checkout session object is missing an id")
	}

	payment, enrollment, err := s.loadPair(ctx, session.ID)
	if err != nil {
		return err
	}

	event := models.PaymentEvent{
		Type:            models.EventChargeSucceeded,
		Amount:          session.AmountTotal,
		ExternalEventID: envelope.ID,
	}
	return s.process(ctx, *payment, *enrollment, event, envelope)
}

// handleChargeRefunded converts the provider's cumulative amount_refunded
// into the delta for this delivery. A delta of zero means this refund was
// already applied; the event is recorded and acknowledged.
func (s *WebhookService) handleChargeRefunded(ctx context.Context, envelope models.WebhookEnvelope) error {
	var charge models.ChargeObject
	if err := json.Unmarshal(envelope.Data.Object, &charge); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed charge object")
	}
	if charge.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "charge object is missing an id")
	}

	payment, enrollment, err := s.loadPair(ctx, charge.ID)
	if err != nil {
		return err
	}

	delta := charge.AmountRefunded - payment.RefundedTotal
	if delta <= 0 {
		record := &models.WebhookEvent{ProviderEventID: envelope.ID, Type: envelope.Type}
		decision := Decision{
			PaymentStatus:    payment.Status,
			EnrollmentStatus: enrollment.Status,
			RefundedTotal:    payment.RefundedTotal,
			Duplicate:        true,
		}
		if _, _, err := s.applier.Apply(ctx, *payment, *enrollment, decision, record); err != nil {
			return err
		}
		s.logger.Info("refund webhook carried no new refund amount",
			zap.String("event_id", envelope.ID),
			zap.String("payment_id", payment.ID),
		)
		return nil
	}

	event := models.PaymentEvent{
		Type:            models.EventRefundIssued,
		Amount:          delta,
		ExternalEventID: envelope.ID,
	}
	return s.process(ctx, *payment, *enrollment, event, envelope)
}

func (s *WebhookService) loadPair(ctx context.Context, externalTransactionID string) (*models.Payment, *models.Enrollment, error) {
	payment, err := s.payments.FindByExternalTransactionID(ctx, externalTransactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no payment for transaction %s", externalTransactionID))
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	enrollment, err := s.enrollments.FindByID(ctx, payment.EnrollmentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return payment, enrollment, nil
}

func (s *WebhookService) process(ctx context.Context, payment models.Payment, enrollment models.Enrollment, event models.PaymentEvent, envelope models.WebhookEnvelope) error {
	decision, err := s.engine.Decide(payment, enrollment, event)
	if err != nil {
		return err
	}

	record := &models.WebhookEvent{ProviderEventID: envelope.ID, Type: envelope.Type}
	payment, enrollment, err = s.applier.Apply(ctx, payment, enrollment, decision, record)
	if err != nil {
		return err
	}
	if decision.Duplicate {
		return nil
	}

	// State is durable at this point; dispatch outcomes only get logged.
	outcomes := s.dispatcher.Dispatch(ctx, payment, enrollment, decision.Intents)
	for _, outcome := range outcomes {
		if outcome.Status == models.IntentOutcomeFailed {
			s.logger.Error("webhook side effect failed",
				zap.String("event_id", envelope.ID),
				zap.String("intent", string(outcome.Intent.Type)),
				zap.String("detail", outcome.Detail),
			)
		}
	}
	return nil
}
