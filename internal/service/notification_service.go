package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	"github.com/noah-isme/classreg-api/pkg/config"
	"github.com/noah-isme/classreg-api/pkg/export"
	"github.com/noah-isme/classreg-api/pkg/jobs"
)

// Email job types handled by the notification queue.
const (
	jobTypeConfirmationEmail = "confirmation_email"
	jobTypePromotionEmail    = "promotion_email"
	jobTypeRefundEmail       = "refund_email"
)

type emailJob struct {
	To            string
	Subject       string
	Body          string
	AttachReceipt bool
	Receipt       export.Receipt
}

// NotificationService delivers student emails through the mail relay.
// Delivery is best-effort: sends run on a background queue with bounded
// retries, and a permanent failure is logged and dropped rather than
// surfaced to the payment flow.
type NotificationService struct {
	relayURL string
	from     string
	client   *http.Client
	receipts *export.ReceiptRenderer
	queue    *jobs.Queue
	logger   *zap.Logger
}

// NewNotificationService constructs the service and its delivery queue.
func NewNotificationService(cfg config.NotificationsConfig, receipts *export.ReceiptRenderer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if receipts == nil {
		receipts = export.NewReceiptRenderer()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &NotificationService{
		relayURL: cfg.RelayURL,
		from:     cfg.FromAddress,
		client:   &http.Client{Timeout: timeout},
		receipts: receipts,
		logger:   logger,
	}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// QueueConfirmationEmail enqueues the enrollment-confirmed email with the
// PDF receipt attached.
func (s *NotificationService) QueueConfirmationEmail(detail models.PaymentDetail) error {
	return s.enqueue(jobTypeConfirmationEmail, emailJob{
		To:      detail.StudentEmail,
		Subject: fmt.Sprintf("Enrollment confirmed: %s", detail.ClassName),
		Body: fmt.Sprintf("Hi %s,\n\nYour payment was received and your spot in %s is confirmed. Your receipt is attached.\n",
			detail.StudentName, detail.ClassName),
		AttachReceipt: true,
		Receipt: export.Receipt{
			PaymentID:     detail.ID,
			TransactionID: detail.ExternalTransactionID,
			StudentName:   detail.StudentName,
			ClassName:     detail.ClassName,
			Amount:        detail.Amount,
			RefundedTotal: detail.RefundedTotal,
		},
	})
}

// QueuePromotionEmail enqueues the waitlist-promotion notice.
func (s *NotificationService) QueuePromotionEmail(studentEmail, studentName, className string) error {
	return s.enqueue(jobTypePromotionEmail, emailJob{
		To:      studentEmail,
		Subject: fmt.Sprintf("A spot opened in %s", className),
		Body: fmt.Sprintf("Hi %s,\n\nA spot opened up in %s and you are next on the waitlist. Complete payment to confirm your enrollment.\n",
			studentName, className),
	})
}

// QueueRefundEmail enqueues the refund notice.
func (s *NotificationService) QueueRefundEmail(detail models.PaymentDetail, amount int64) error {
	return s.enqueue(jobTypeRefundEmail, emailJob{
		To:      detail.StudentEmail,
		Subject: fmt.Sprintf("Refund issued for %s", detail.ClassName),
		Body: fmt.Sprintf("Hi %s,\n\nA refund of %d.%02d has been issued for your enrollment in %s.\n",
			detail.StudentName, amount/100, amount%100, detail.ClassName),
	})
}

func (s *NotificationService) enqueue(jobType string, payload emailJob) error {
	if payload.To == "" {
		s.logger.Warn("skipping email with no recipient", zap.String("type", jobType))
		return nil
	}
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
	})
}

type relayMessage struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentB64  string `json:"attachment_b64,omitempty"`
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(emailJob)
	if !ok {
		s.logger.Error("dropping email job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	msg := relayMessage{
		From:    s.from,
		To:      payload.To,
		Subject: payload.Subject,
		Body:    payload.Body,
	}
	if payload.AttachReceipt {
		pdf, err := s.receipts.Render(payload.Receipt)
		if err != nil {
			// Send without the attachment rather than losing the email.
			s.logger.Error("failed to render receipt", zap.String("payment_id", payload.Receipt.PaymentID), zap.Error(err))
		} else {
			msg.AttachmentName = fmt.Sprintf("receipt-%s.pdf", payload.Receipt.PaymentID)
			msg.AttachmentB64 = base64.StdEncoding.EncodeToString(pdf)
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail relay call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}
	return nil
}
