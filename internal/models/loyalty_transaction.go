package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LoyaltyTransaction is append-only. At most one row exists per
// (ReferenceID, Reason) pair; rows without a reference are not constrained.
type LoyaltyTransaction struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	LoyaltyAccountID uuid.UUID      `gorm:"type:uuid;not null;index" json:"loyaltyAccountId"`
	ChangeAmount     int64          `gorm:"not null" json:"changeAmount"`
	Reason           string         `gorm:"size:100;not null;uniqueIndex:idx_loyalty_transactions_reference,priority:2" json:"reason"`
	ReferenceID      *string        `gorm:"size:255;uniqueIndex:idx_loyalty_transactions_reference,priority:1" json:"referenceId,omitempty"`
	Metadata         datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"createdAt"`
}

func (transaction *LoyaltyTransaction) BeforeCreate(tx *gorm.DB) (err error) {
	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	return
}
