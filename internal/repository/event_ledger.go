package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventLedger records PSP event ids that were fully processed.
type EventLedger struct {
	db *gorm.DB
}

// NewEventLedger creates a ledger backed by the processed_events table.
func NewEventLedger(db *gorm.DB) *EventLedger {
	return &EventLedger{db: db}
}

// HasProcessed reports whether the event id was recorded before.
func (l *EventLedger) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&ProcessedEventModel{}).
		Where("event_id = ?", eventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordEvent marks the event as processed. Recording twice is a no-op.
func (l *EventLedger) RecordEvent(ctx context.Context, eventID, eventType string) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ProcessedEventModel{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}).Error
}
