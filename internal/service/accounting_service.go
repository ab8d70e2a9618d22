package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	"github.com/noah-isme/classreg-api/pkg/config"
)

// Accounting sync kinds sent with each record.
const (
	AccountingSyncPayment       = "payment"
	AccountingSyncRefund        = "refund"
	AccountingSyncPartialRefund = "partial_refund"
)

// AccountingClient pushes payment records to the external bookkeeping
// system. Calls are at-least-once; the remote side is assumed idempotent on
// payment id.
type AccountingClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewAccountingClient constructs the accounting sync client.
func NewAccountingClient(cfg config.AccountingConfig, logger *zap.Logger) *AccountingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AccountingClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type accountingSyncRequest struct {
	PaymentID             string `json:"payment_id"`
	ExternalTransactionID string `json:"external_transaction_id"`
	Kind                  string `json:"kind"`
	Amount                int64  `json:"amount"`
	RefundedTotal         int64  `json:"refunded_total"`
}

type accountingSyncResponse struct {
	Success  bool   `json:"success"`
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

// SyncPayment sends one payment record and returns the remote record id.
func (c *AccountingClient) SyncPayment(ctx context.Context, payment models.Payment, kind string) (string, error) {
	payload := accountingSyncRequest{
		PaymentID:             payment.ID,
		ExternalTransactionID: payment.ExternalTransactionID,
		Kind:                  kind,
		Amount:                payment.Amount,
		RefundedTotal:         payment.RefundedTotal,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode accounting request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/records", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build accounting request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("accounting sync call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("accounting sync returned status %d", resp.StatusCode)
	}

	var decoded accountingSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode accounting response: %w", err)
	}
	if !decoded.Success {
		return "", fmt.Errorf("accounting sync rejected: %s", decoded.Error)
	}
	return decoded.RecordID, nil
}
