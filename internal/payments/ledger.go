// Package payments owns Payment rows and the state machine that moves them.
package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NewPayment struct {
	OrderID           *uuid.UUID
	UserID            *uuid.UUID
	Amount            decimal.Decimal
	Currency          string
	Provider          models.PaymentProvider
	ProviderPaymentID string
}

// Transition describes a requested status change. Empty optional fields
// leave the stored values untouched.
type Transition struct {
	To                models.PaymentStatus
	ProviderPaymentID string
	ProviderChargeID  string
	RawResponse       []byte
	FailureMessage    string
}

type TransitionResult struct {
	Applied bool
	From    models.PaymentStatus
	Reason  string
	Payment *models.Payment
}

func Applied(from models.PaymentStatus, payment *models.Payment) TransitionResult {
	return TransitionResult{Applied: true, From: from, Payment: payment}
}

func Rejected(from models.PaymentStatus, reason string, payment *models.Payment) TransitionResult {
	return TransitionResult{From: from, Reason: reason, Payment: payment}
}

type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{logger: logger, now: time.Now}
}

// CreateProcessingPayment inserts a payment in the processing state.
func (l *Ledger) CreateProcessingPayment(tx *gorm.DB, req NewPayment) (*models.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, apperrors.Validation("amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, apperrors.Validation("currency must be a three-letter ISO code")
	}
	switch req.Provider {
	case models.PaymentProviderStripe, models.PaymentProviderMock:
	default:
		return nil, apperrors.Validation("unknown payment provider %q", req.Provider)
	}

	now := l.now().UTC()
	payment := models.Payment{
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		Amount:    req.Amount.Round(2),
		Currency:  currency,
		Provider:  req.Provider,
		Status:    models.PaymentStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ProviderPaymentID != "" {
		providerPaymentID := req.ProviderPaymentID
		payment.ProviderPaymentID = &providerPaymentID
	}

	if err := tx.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	l.logger.Info("payment created",
		"payment_id", payment.ID,
		"provider", payment.Provider,
		"provider_payment_id", req.ProviderPaymentID,
		"amount", payment.Amount.StringFixed(2),
		"currency", payment.Currency,
	)
	return &payment, nil
}

// TransitionTo applies t as one conditional update keyed on the expected
// current status. A transition outside the graph, or one that lost a race
// against a concurrent transition, comes back Rejected with a nil error.
func (l *Ledger) TransitionTo(tx *gorm.DB, paymentID uuid.UUID, t Transition) (TransitionResult, error) {
	if !ValidStatus(t.To) {
		return TransitionResult{}, apperrors.Validation("unknown payment status %q", t.To)
	}

	from, ok := predecessor(t.To)
	if ok {
		updates := map[string]interface{}{
			"status":     t.To,
			"updated_at": l.now().UTC(),
		}
		if t.ProviderPaymentID != "" {
			updates["provider_payment_id"] = t.ProviderPaymentID
		}
		if t.ProviderChargeID != "" {
			updates["provider_charge_id"] = t.ProviderChargeID
		}
		if len(t.RawResponse) > 0 {
			updates["raw_provider_response"] = datatypes.JSON(t.RawResponse)
		}
		if t.FailureMessage != "" {
			updates["failure_message"] = t.FailureMessage
		}

		result := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", paymentID, from).
			Updates(updates)
		if result.Error != nil {
			return TransitionResult{}, fmt.Errorf("transition payment %s to %s: %w", paymentID, t.To, result.Error)
		}

		if result.RowsAffected == 1 {
			payment, err := l.Get(tx, paymentID)
			if err != nil {
				return TransitionResult{}, err
			}
			l.logger.Info("payment transitioned", "payment_id", paymentID, "from", from, "to", t.To)
			return Applied(from, payment), nil
		}
	}

	payment, err := l.Get(tx, paymentID)
	if err != nil {
		return TransitionResult{}, err
	}

	reason := fmt.Sprintf("transition %s -> %s is not allowed", payment.Status, t.To)
	if payment.Status == t.To {
		reason = fmt.Sprintf("payment already %s", t.To)
	}
	l.logger.Warn("payment transition rejected",
		"payment_id", paymentID,
		"current", payment.Status,
		"requested", t.To,
		"reason", reason,
		"kind", apperrors.KindStateTransitionRejected.String(),
	)
	return Rejected(payment.Status, reason, payment), nil
}

func (l *Ledger) Get(db *gorm.DB, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := db.Where("id = ?", id).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("payment %s not found", id)
		}
		return nil, fmt.Errorf("load payment %s: %w", id, err)
	}
	return &payment, nil
}

// GetByOrder returns the most recent payment for orderID.
func (l *Ledger) GetByOrder(db *gorm.DB, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := db.Where("order_id = ?", orderID).Order("created_at DESC").First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("no payment for order %s", orderID)
		}
		return nil, fmt.Errorf("load payment for order %s: %w", orderID, err)
	}
	return &payment, nil
}

func (l *Ledger) GetByProviderPaymentID(db *gorm.DB, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := db.Where("provider_payment_id = ?", providerPaymentID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("no payment for provider session %s", providerPaymentID)
		}
		return nil, fmt.Errorf("load payment for provider session %s: %w", providerPaymentID, err)
	}
	return &payment, nil
}

func (l *Ledger) GetByProviderChargeID(db *gorm.DB, providerChargeID string) (*models.Payment, error) {
	var payment models.Payment
	if err := db.Where("provider_charge_id = ?", providerChargeID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("no payment for provider charge %s", providerChargeID)
		}
		return nil, fmt.Errorf("load payment for provider charge %s: %w", providerChargeID, err)
	}
	return &payment, nil
}

func (l *Ledger) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("list payments for user %s: %w", userID, err)
	}
	return payments, nil
}

// HasSettled reports whether orderID already has a succeeded payment.
func (l *Ledger) HasSettled(db *gorm.DB, orderID uuid.UUID) (bool, error) {
	var count int64
	if err := db.Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusSucceeded).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check settled payments for order %s: %w", orderID, err)
	}
	return count > 0, nil
}
