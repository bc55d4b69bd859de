package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// EventRouter is the part of application.EventRouter the consumer drives.
type EventRouter interface {
	Route(ctx context.Context, event *stripe.Event) application.RouteResult
}

// PSPEventConsumer reads verified PSP events from Kafka and routes them.
type PSPEventConsumer struct {
	consumer *kafka.Consumer
	router   EventRouter
	logger   *zap.Logger
}

// NewPSPEventConsumer creates a new consumer for verified PSP events.
func NewPSPEventConsumer(
	brokers []string,
	groupID string,
	topic string,
	router EventRouter,
	logger *zap.Logger,
) *PSPEventConsumer {
	return &PSPEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, topic, logger),
		router:   router,
		logger:   logger,
	}
}

// Start begins consuming PSP events. It blocks until the context is cancelled.
func (c *PSPEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

func (c *PSPEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from psp topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return err
	}

	if !strings.EqualFold(cloudEvent.Type, PSPEventReceived) {
		c.logger.Debug("ignoring unhandled event type", zap.String("type", cloudEvent.Type))
		return nil
	}

	event, err := DecodePSPEvent(cloudEvent)
	if err != nil {
		c.logger.Error("failed to decode psp event", zap.String("id", cloudEvent.ID), zap.Error(err))
		return err
	}

	result := c.router.Route(ctx, event)
	c.logger.Info("psp event routed",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("outcome", string(result.Status)),
	)
	return nil
}

// DecodePSPEvent extracts the PSP event carried by a PSPEventReceived envelope.
func DecodePSPEvent(ce kafka.CloudEvent) (*stripe.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(ce.Data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal psp event: %w", err)
	}
	if event.ID == "" || event.Data == nil {
		return nil, fmt.Errorf("psp event in %s has no id or data", ce.ID)
	}
	return &event, nil
}

// Close closes the underlying Kafka consumer.
func (c *PSPEventConsumer) Close() error {
	return c.consumer.Close()
}
