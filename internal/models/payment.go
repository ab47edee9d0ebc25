package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderMock   PaymentProvider = "mock"
)

// Payment is owned by the payments ledger. Status only moves through
// conditional updates issued by payments.Ledger.TransitionTo.
type Payment struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	OrderID             *uuid.UUID      `gorm:"type:uuid;index" json:"orderId"`
	UserID              *uuid.UUID      `gorm:"type:uuid;index" json:"userId"`
	Amount              decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency            string          `gorm:"size:3;not null" json:"currency"`
	Provider            PaymentProvider `gorm:"size:20;not null" json:"provider"`
	ProviderPaymentID   *string         `gorm:"size:255;uniqueIndex" json:"providerPaymentId"`
	ProviderChargeID    *string         `gorm:"size:255;index" json:"providerChargeId,omitempty"`
	Status              PaymentStatus   `gorm:"size:20;not null;index" json:"status"`
	RawProviderResponse datatypes.JSON  `json:"-"`
	FailureMessage      *string         `json:"failureMessage"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

func (payment *Payment) BeforeCreate(tx *gorm.DB) (err error) {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return
}
