package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classreg-api/internal/models"
)

// WebhookEventRepository is the durable dedupe ledger for provider events.
type WebhookEventRepository struct {
	db *sqlx.DB
}

// NewWebhookEventRepository constructs the repository.
func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Exists reports whether a provider event id was already fully applied.
func (r *WebhookEventRepository) Exists(ctx context.Context, providerEventID string) (bool, error) {
	const query = `SELECT 1 FROM webhook_events WHERE provider_event_id = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, providerEventID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return true, nil
}

// CreateTx records a processed event inside the caller's transaction, so the
// dedupe marker commits atomically with the state it guards. The unique
// constraint on provider_event_id makes concurrent duplicates lose the race.
func (r *WebhookEventRepository) CreateTx(ctx context.Context, exec sqlx.ExtContext, event *models.WebhookEvent) error {
	if exec == nil {
		exec = r.db
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}
	const query = `INSERT INTO webhook_events (id, provider_event_id, type, processed_at) VALUES ($1, $2, $3, $4)`
	if _, err := exec.ExecContext(ctx, query, event.ID, event.ProviderEventID, event.Type, event.ProcessedAt); err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}
