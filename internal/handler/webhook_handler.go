package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classreg-api/internal/service"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
	"github.com/noah-isme/classreg-api/pkg/response"
)

// SignatureHeader carries the provider's HMAC signature.
const SignatureHeader = "X-Webhook-Signature"

// WebhookHandler receives payment provider events.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler constructs the handler.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Receive godoc
// @Summary Receive a payment provider webhook event
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "HMAC signature"
// @Success 200 {object} response.Envelope
// @Router /webhooks/payment [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read request body"))
		return
	}

	if err := h.webhooks.HandleEvent(c.Request.Context(), body, c.GetHeader(SignatureHeader)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
}
