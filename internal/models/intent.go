package models

// IntentType names a side effect the transition engine asks the dispatcher
// to perform. Intents are descriptions only; the engine never executes them.
type IntentType string

// Side-effect intent types.
const (
	IntentSyncAccounting        IntentType = "sync_to_accounting"
	IntentSyncRefund            IntentType = "sync_refund_to_accounting"
	IntentSyncPartialRefund     IntentType = "sync_partial_refund_to_accounting"
	IntentSendConfirmationEmail IntentType = "send_confirmation_email"
	IntentConfirmEnrollment     IntentType = "confirm_enrollment"
	IntentReleaseSeat           IntentType = "release_seat"
)

// Intent is a single side-effect description.
type Intent struct {
	Type    IntentType `json:"type"`
	ClassID string     `json:"class_id,omitempty"`
	Amount  int64      `json:"amount,omitempty"`
}

// IntentOutcome statuses.
const (
	IntentOutcomeSucceeded = "SUCCEEDED"
	IntentOutcomeFailed    = "FAILED"
	IntentOutcomeSkipped   = "SKIPPED"
)

// IntentOutcome records the result of dispatching one intent. Failures are
// contained here; they never roll back the committed state transition.
type IntentOutcome struct {
	Intent Intent `json:"intent"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}
