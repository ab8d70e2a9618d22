package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
	"github.com/noah-isme/classreg-api/pkg/config"
)

// CheckoutSession is the gateway's handle for a started checkout; its ID is
// stored as the payment's external transaction id.
type CheckoutSession struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// GatewayRefund is the gateway's confirmation of an issued refund.
type GatewayRefund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// GatewayClient talks to the external payment gateway. Every call carries a
// bounded timeout; a timeout is treated as failure and never as an implicit
// success, because issuing a state change without confirmed gateway success
// risks a phantom refund.
type GatewayClient struct {
	baseURL       string
	apiKey        string
	client        *http.Client
	refundTimeout time.Duration
	logger        *zap.Logger
}

// NewGatewayClient constructs the gateway client.
func NewGatewayClient(cfg config.GatewayConfig, logger *zap.Logger) *GatewayClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	refundTimeout := cfg.RefundTimeout
	if refundTimeout <= 0 {
		refundTimeout = 15 * time.Second
	}
	return &GatewayClient{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		client:        &http.Client{Timeout: timeout},
		refundTimeout: refundTimeout,
		logger:        logger,
	}
}

// CreateCheckoutSession starts a hosted checkout for the given amount.
func (c *GatewayClient) CreateCheckoutSession(ctx context.Context, paymentID string, amount int64) (*CheckoutSession, error) {
	payload := map[string]interface{}{
		"reference": paymentID,
		"amount":    amount,
	}
	var session CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", payload, &session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrGatewayUnavailable, "gateway returned empty session id")
	}
	return &session, nil
}

// IssueRefund asks the gateway to refund part or all of a transaction.
func (c *GatewayClient) IssueRefund(ctx context.Context, externalTransactionID string, amount int64) (*GatewayRefund, error) {
	ctx, cancel := context.WithTimeout(ctx, c.refundTimeout)
	defer cancel()

	payload := map[string]interface{}{
		"transaction_id": externalTransactionID,
	}
	if amount > 0 {
		payload["amount"] = amount
	}
	var refund GatewayRefund
	if err := c.post(ctx, "/v1/refunds", payload, &refund); err != nil {
		return nil, err
	}
	if refund.Status != "succeeded" {
		return nil, appErrors.Clone(appErrors.ErrGatewayUnavailable, fmt.Sprintf("gateway refund status %q", refund.Status))
	}
	return &refund, nil
}

func (c *GatewayClient) post(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode gateway request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, "payment gateway call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return appErrors.Clone(appErrors.ErrGatewayUnavailable, fmt.Sprintf("payment gateway returned status %d", resp.StatusCode))
	}
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, "failed to decode gateway response")
		}
	}
	return nil
}
