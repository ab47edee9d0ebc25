package checkout

import (
	"context"
	"encoding/json"

	"github.com/farellandr/orderpay/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LineItem struct {
	Name        string
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int64
}

func (item LineItem) Subtotal() decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
}

type SessionRequest struct {
	OrderID        uuid.UUID
	UserID         uuid.UUID
	Currency       string
	LineItems      []LineItem
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Session is the provider's view of a checkout session.
type Session struct {
	ID              string
	URL             string
	Paid            bool
	Expired         bool
	PaymentIntentID string
	OrderID         string
	Raw             json.RawMessage
}

// Provider creates and reads hosted checkout sessions. Errors carry
// apperrors.KindProviderTransient or apperrors.KindProviderPermanent.
type Provider interface {
	Name() models.PaymentProvider
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}
