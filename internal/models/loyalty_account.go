package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LoyaltyTier string

const (
	LoyaltyTierBronze   LoyaltyTier = "bronze"
	LoyaltyTierSilver   LoyaltyTier = "silver"
	LoyaltyTierGold     LoyaltyTier = "gold"
	LoyaltyTierPlatinum LoyaltyTier = "platinum"
)

// LoyaltyAccount caches two folds of its transaction log: PointsBalance is the
// sum of every ChangeAmount, LifetimePoints the sum of the positive ones.
type LoyaltyAccount struct {
	ID             uuid.UUID   `gorm:"type:uuid;primary_key" json:"id"`
	UserID         uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex" json:"userId"`
	PointsBalance  int64       `gorm:"not null" json:"pointsBalance"`
	LifetimePoints int64       `gorm:"not null" json:"lifetimePoints"`
	Tier           LoyaltyTier `gorm:"size:20;not null;index" json:"tier"`
	IsActive       bool        `gorm:"not null;index" json:"isActive"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func (account *LoyaltyAccount) BeforeCreate(tx *gorm.DB) (err error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return
}
