package handler

import (
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/gin-gonic/gin"
)

// SubscriptionHandler handles HTTP requests for subscription operations.
type SubscriptionHandler struct {
	service *application.SubscriptionService
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(service *application.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// RegisterRoutes registers all subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(r *gin.RouterGroup) {
	subs := r.Group("/subscriptions")
	{
		subs.POST("", h.CreateSubscription)
		subs.POST("/setup-intents", h.CreateSetupIntent)
		subs.POST("/from-setup-intent", h.CreateFromSetupIntent)
		subs.POST("/confirm", h.ConfirmPayment)
		subs.POST("/:id/cancel", h.CancelSubscription)
		subs.PATCH("/:id", h.UpdateSubscription)
	}
	r.GET("/customers/:customerId/subscriptions", h.ListCustomerSubscriptions)
}

// CreateSubscription handles POST /api/v1/subscriptions.
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var req application.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateSubscription(c.Request.Context(), req.CartID)
	if err != nil {
		respondError(c, err)
		return
	}
	created(c, result)
}

// CreateSetupIntent handles POST /api/v1/subscriptions/setup-intents.
func (h *SubscriptionHandler) CreateSetupIntent(c *gin.Context) {
	var req application.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateSetupIntent(c.Request.Context(), req.CartID)
	if err != nil {
		respondError(c, err)
		return
	}
	created(c, result)
}

// CreateFromSetupIntent handles POST /api/v1/subscriptions/from-setup-intent.
func (h *SubscriptionHandler) CreateFromSetupIntent(c *gin.Context) {
	var req application.CreateFromSetupIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateSubscriptionFromSetupIntent(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	created(c, result)
}

// ConfirmPayment handles POST /api/v1/subscriptions/confirm.
func (h *SubscriptionHandler) ConfirmPayment(c *gin.Context) {
	var req application.ConfirmSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	dto, err := h.service.ConfirmSubscriptionPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, dto)
}

// CancelSubscription handles POST /api/v1/subscriptions/:id/cancel.
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	result, err := h.service.CancelSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, result)
}

// UpdateSubscription handles PATCH /api/v1/subscriptions/:id.
func (h *SubscriptionHandler) UpdateSubscription(c *gin.Context) {
	var req application.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.SubscriptionID = c.Param("id")

	result, err := h.service.UpdateSubscription(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, result)
}

// ListCustomerSubscriptions handles GET /api/v1/customers/:customerId/subscriptions.
func (h *SubscriptionHandler) ListCustomerSubscriptions(c *gin.Context) {
	subs, err := h.service.ListCustomerSubscriptions(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, subs)
}
