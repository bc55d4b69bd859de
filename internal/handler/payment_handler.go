package handler

import (
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles HTTP requests for payment operations.
type PaymentHandler struct {
	payments      *application.PaymentService
	modifications *application.ModificationService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments *application.PaymentService, modifications *application.ModificationService) *PaymentHandler {
	return &PaymentHandler{payments: payments, modifications: modifications}
}

// RegisterRoutes registers all payment routes on the given router group.
func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("/intents", h.CreatePaymentIntent)
		payments.GET("/:id", h.GetPayment)
		payments.POST("/:id/modifications", h.ModifyPayment)
	}
}

// CreatePaymentIntent handles POST /api/v1/payments/intents
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	var req application.CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.payments.CreatePaymentIntent(c.Request.Context(), req.CartID)
	if err != nil {
		respondError(c, err)
		return
	}

	created(c, result)
}

// GetPayment handles GET /api/v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid payment ID")
		return
	}

	dto, err := h.payments.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		respondError(c, err)
		return
	}

	success(c, dto)
}

// ModifyPayment handles POST /api/v1/payments/:id/modifications
func (h *PaymentHandler) ModifyPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid payment ID")
		return
	}

	var req application.ModifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.PaymentID = paymentID
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	result, err := h.modifications.ModifyPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	success(c, result)
}
