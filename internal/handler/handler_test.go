package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/adapter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/events"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/kafka"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

const testSecret = "whsec_test"

func init() {
	gin.SetMode(gin.TestMode)
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) PublishEvent(ctx context.Context, topic string, ce kafka.CloudEvent) error {
	args := m.Called(ctx, topic, ce)
	return args.Error(0)
}

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func webhookRouter(producer EventProducer) *gin.Engine {
	r := gin.New()
	NewWebhookHandler(testSecret, producer, "psp.events", zap.NewNop()).RegisterRoutes(r)
	return r
}

var eventPayload = []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","api_version":"2020-08-27","data":{"object":{"id":"in_1","object":"invoice"}}}`)

func TestWebhookEnqueuesVerifiedEvent(t *testing.T) {
	producer := new(mockProducer)
	var published kafka.CloudEvent
	producer.On("PublishEvent", mock.Anything, "psp.events", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(2).(kafka.CloudEvent) }).
		Return(nil)

	w := httptest.NewRecorder()
	webhookRouter(producer).ServeHTTP(w, signedRequest(t, eventPayload, testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, events.PSPEventReceived, published.Type)
	assert.Equal(t, "evt_1", published.Subject)

	event, err := events.DecodePSPEvent(published)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "in_1", event.Data.Object["id"])
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	producer := new(mockProducer)

	w := httptest.NewRecorder()
	webhookRouter(producer).ServeHTTP(w, signedRequest(t, eventPayload, "whsec_other"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	producer.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookBodyLimit(t *testing.T) {
	t.Run("large signed event is accepted", func(t *testing.T) {
		producer := new(mockProducer)
		producer.On("PublishEvent", mock.Anything, "psp.events", mock.Anything).Return(nil)

		payload := []byte(fmt.Sprintf(`{"id":"evt_big","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice","description":%q}}}`,
			string(bytes.Repeat([]byte("x"), 200*1024))))
		w := httptest.NewRecorder()
		webhookRouter(producer).ServeHTTP(w, signedRequest(t, payload, testSecret))

		assert.Equal(t, http.StatusOK, w.Code)
		producer.AssertExpectations(t)
	})

	t.Run("oversized body is rejected with 413", func(t *testing.T) {
		producer := new(mockProducer)

		payload := bytes.Repeat([]byte("x"), maxWebhookBodyBytes+1)
		w := httptest.NewRecorder()
		webhookRouter(producer).ServeHTTP(w, signedRequest(t, payload, testSecret))

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		producer.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWebhookEnqueueFailureAsksForRedelivery(t *testing.T) {
	producer := new(mockProducer)
	producer.On("PublishEvent", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	w := httptest.NewRecorder()
	webhookRouter(producer).ServeHTTP(w, signedRequest(t, eventPayload, testSecret))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	pspErr := domain.WrapError(domain.ErrorCodePSPAPIError, "capture", &adapter.PSPApiError{StatusCode: http.StatusPaymentRequired})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported event", domain.NewDomainError(domain.ErrorCodeUnsupportedEvent, "x"), http.StatusBadRequest},
		{"invalid operation", domain.NewInvalidOperationError("void"), http.StatusBadRequest},
		{"validation", domain.NewValidationError("bad"), http.StatusBadRequest},
		{"not found", domain.NewNotFoundError("payment", "1"), http.StatusNotFound},
		{"conflict", domain.NewConflictError("stale"), http.StatusConflict},
		{"psp status", pspErr, http.StatusPaymentRequired},
		{"psp without status", domain.WrapError(domain.ErrorCodePSPAPIError, "x", &adapter.PSPApiError{}), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("outer: %w", domain.NewNotFoundError("cart", "2")), http.StatusNotFound},
		{"reconciliation failure", &application.ReconciliationFailure{Err: domain.NewMissingLinkageError("in_1")}, http.StatusUnprocessableEntity},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { respondError(c, errors.New("dsn password=secret")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestPaymentHandlerRejectsInvalidInput(t *testing.T) {
	r := gin.New()
	NewPaymentHandler(nil, nil).RegisterRoutes(r.Group("/api/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payments/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	body := bytes.NewBufferString(`{"amount":{"cent_amount":100,"currency_code":"USD"}}`)
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments/6f1c6a8e-7d43-4bb8-9d35-8f2b0e8a1c11/modifications", body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionHandlerRejectsInvalidInput(t *testing.T) {
	r := gin.New()
	NewSubscriptionHandler(nil).RegisterRoutes(r.Group("/api/v1"))

	for _, path := range []string{"/api/v1/subscriptions", "/api/v1/subscriptions/from-setup-intent", "/api/v1/subscriptions/confirm"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestMiddlewareChain(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()), LoggerMiddleware(zap.NewNop()), CORSMiddleware(nil), RequestIDMiddleware(), SecurityHeadersMiddleware())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(requestIDHeader, "req-1")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(requestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestHealth(t *testing.T) {
	r := gin.New()
	NewHealthHandler(nil, "service-payment-sync").RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "service-payment-sync", body["service"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
