package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classreg-api/internal/models"
	"github.com/noah-isme/classreg-api/internal/service"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
	"github.com/noah-isme/classreg-api/pkg/response"
)

// PaymentHandler exposes payment endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
	refunds  *service.RefundService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService, refunds *service.RefundService) *PaymentHandler {
	return &PaymentHandler{payments: payments, refunds: refunds}
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param enrollmentId query string false "Filter by enrollment"
// @Param status query string false "Filter by status"
// @Param syncStatus query string false "Filter by accounting sync status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	var filter models.PaymentFilter
	filter.EnrollmentID = c.Query("enrollmentId")
	filter.Status = models.PaymentStatus(c.Query("status"))
	filter.SyncStatus = models.SyncStatus(c.Query("syncStatus"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	payments, total, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get payment detail
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

type setStatusRequest struct {
	Status models.PaymentStatus `json:"status" binding:"required"`
}

// SetStatus godoc
// @Summary Manually override a payment status
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body setStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/status [put]
func (h *PaymentHandler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.payments.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Refund godoc
// @Summary Refund a payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string false "Payment ID"
// @Param payload body service.RefundRequest true "Payment reference, refund amount in minor units (zero for full), optional reason"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/refund [post]
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	// The path id wins over any body reference.
	if id := c.Param("id"); id != "" {
		req.PaymentID = id
	}
	result, err := h.refunds.Refund(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Resync godoc
// @Summary Retry accounting sync for failed payments
// @Tags Payments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /payments/resync [post]
func (h *PaymentHandler) Resync(c *gin.Context) {
	synced, total, err := h.payments.ResyncFailed(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"synced": synced, "pending": total - synced}, nil)
}
