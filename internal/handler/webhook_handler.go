package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/events"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/kafka"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// maxWebhookBodyBytes bounds a webhook body. Invoice events with many lines
// run past 64 KiB; the CloudEvent carrying the body must still fit Kafka's
// default 1 MiB message size.
const maxWebhookBodyBytes = 512 << 10

// EventProducer publishes CloudEvents.
type EventProducer interface {
	PublishEvent(ctx context.Context, topic string, ce kafka.CloudEvent) error
}

// WebhookHandler verifies PSP webhooks and hands them to Kafka. Processing
// happens in the PSP event consumer so the PSP gets its 2xx quickly.
type WebhookHandler struct {
	secret   string
	producer EventProducer
	topic    string
	logger   *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(secret string, producer EventProducer, topic string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, producer: producer, topic: topic, logger: logger}
}

// RegisterRoutes registers the webhook route.
func (h *WebhookHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook handles POST /webhooks/stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Error("webhook body exceeds limit", zap.Int64("limit_bytes", tooLarge.Limit))
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   errorBody{Code: "PAYLOAD_TOO_LARGE", Message: "webhook body too large"},
			})
			return
		}
		badRequest(c, "unreadable body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("rejected webhook with invalid signature", zap.Error(err))
		badRequest(c, "invalid signature")
		return
	}

	ce, err := kafka.NewCloudEvent(events.Source, events.PSPEventReceived, json.RawMessage(payload))
	if err != nil {
		respondError(c, err)
		return
	}
	ce.Subject = event.ID

	if err := h.producer.PublishEvent(c.Request.Context(), h.topic, ce); err != nil {
		// A non-2xx makes the PSP redeliver.
		h.logger.Error("failed to enqueue webhook",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": errorBody{Code: "ENQUEUE_FAILED", Message: "try again later"}})
		return
	}

	h.logger.Debug("webhook enqueued",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
