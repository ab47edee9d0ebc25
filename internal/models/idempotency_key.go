package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IdempotencyKey is inserted once per side-effecting request and never
// updated. Reusing an expired key appends the next generation, so the unique
// index on (Key, Generation) is the synchronization point between concurrent
// duplicates and earlier reservations stay on record.
type IdempotencyKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key"`
	Key        string     `gorm:"column:idempotency_key;size:255;not null;uniqueIndex:idx_idempotency_key_generation,priority:1"`
	Generation int        `gorm:"not null;uniqueIndex:idx_idempotency_key_generation,priority:2"`
	Scope      string     `gorm:"size:100;not null"`
	UserID     *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt  time.Time
	ExpiresAt  *time.Time `gorm:"index"`
}

func (key *IdempotencyKey) BeforeCreate(tx *gorm.DB) (err error) {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.Generation == 0 {
		key.Generation = 1
	}
	return
}

func (key IdempotencyKey) Expired(now time.Time) bool {
	return key.ExpiresAt != nil && !now.Before(*key.ExpiresAt)
}
