package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LoyaltyRedemption struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	LoyaltyAccountID uuid.UUID      `gorm:"type:uuid;not null;index" json:"loyaltyAccountId"`
	PointsUsed       int64          `gorm:"not null" json:"pointsUsed"`
	RewardType       string         `gorm:"size:100;not null" json:"rewardType"`
	RewardMetadata   datatypes.JSON `json:"rewardMetadata,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"createdAt"`
}

func (redemption *LoyaltyRedemption) BeforeCreate(tx *gorm.DB) (err error) {
	if redemption.ID == uuid.Nil {
		redemption.ID = uuid.New()
	}
	return
}
