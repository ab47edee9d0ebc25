package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEvent records every provider event that passed signature checks.
// The (Provider, ProviderEventID) index deduplicates redeliveries.
type WebhookEvent struct {
	ID              uuid.UUID      `gorm:"type:uuid;primary_key"`
	Provider        string         `gorm:"size:20;not null;uniqueIndex:idx_webhook_events_provider_event,priority:1"`
	ProviderEventID string         `gorm:"size:255;not null;uniqueIndex:idx_webhook_events_provider_event,priority:2"`
	EventType       string         `gorm:"size:100;not null;index"`
	Payload         datatypes.JSON `gorm:"not null"`
	Outcome         string         `gorm:"size:20"`
	CreatedAt       time.Time      `gorm:"index"`
}

func (event *WebhookEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return
}
