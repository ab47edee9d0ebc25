package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a read model of the order service's table. Only the fields the
// checkout needs are mapped; the order lifecycle is owned elsewhere.
type Order struct {
	ID        uuid.UUID       `gorm:"type:uuid;primary_key"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Total     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency  string          `gorm:"size:3;not null"`
	Status    OrderStatus     `gorm:"size:20;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (order *Order) BeforeCreate(tx *gorm.DB) (err error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return
}

func (order Order) Payable() bool {
	return order.Status == OrderStatusPending
}
