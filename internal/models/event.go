package models

import (
	"encoding/json"
	"time"
)

// EventType identifies a logical payment lifecycle event fed into the
// transition engine.
type EventType string

// Engine event types.
const (
	EventChargeSucceeded EventType = "charge_succeeded"
	EventRefundIssued    EventType = "refund_issued"
	EventManualStatusSet EventType = "manual_status_set"
)

// RefundScope distinguishes full refunds (which cancel the enrollment and
// free the seat) from partial ones (which never do).
type RefundScope string

// Refund scopes.
const (
	RefundScopeFull    RefundScope = "FULL"
	RefundScopePartial RefundScope = "PARTIAL"
)

// PaymentEvent is the engine's input: one logical event targeting a single
// payment/enrollment pair.
type PaymentEvent struct {
	Type            EventType
	Amount          int64
	Scope           RefundScope
	TargetStatus    PaymentStatus
	ExternalEventID string
}

// Provider webhook envelope `type` values handled by ingress.
const (
	ProviderEventCheckoutCompleted = "checkout.session.completed"
	ProviderEventChargeRefunded    = "charge.refunded"
)

// WebhookEnvelope mirrors the provider's event wire format.
type WebhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSessionObject is the data.object payload of
// checkout.session.completed events.
type CheckoutSessionObject struct {
	ID          string `json:"id"`
	AmountTotal int64  `json:"amount_total"`
}

// ChargeObject is the data.object payload of charge.refunded events.
type ChargeObject struct {
	ID             string `json:"id"`
	AmountRefunded int64  `json:"amount_refunded"`
}

// WebhookEvent is the durable dedupe record for a processed provider event.
type WebhookEvent struct {
	ID              string    `db:"id" json:"id"`
	ProviderEventID string    `db:"provider_event_id" json:"provider_event_id"`
	Type            string    `db:"type" json:"type"`
	ProcessedAt     time.Time `db:"processed_at" json:"processed_at"`
}
