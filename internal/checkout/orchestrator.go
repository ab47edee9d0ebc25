// Package checkout creates provider checkout sessions bound to orders.
//
// A session is created at most once per idempotency key: the key is
// reserved before the provider is called and stays spent if the call
// fails, so a retry after an error needs a fresh key.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/idempotency"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/farellandr/orderpay/internal/payments"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const reservationScope = "checkout_session"

type Outcome int

const (
	SessionCreated Outcome = iota + 1
	DuplicateRequest
	OrderNotPayable
	ProviderError
)

func (o Outcome) String() string {
	switch o {
	case SessionCreated:
		return "session_created"
	case DuplicateRequest:
		return "duplicate_request"
	case OrderNotPayable:
		return "order_not_payable"
	case ProviderError:
		return "provider_error"
	default:
		return "unknown"
	}
}

type Request struct {
	OrderID        uuid.UUID
	UserID         uuid.UUID
	LineItems      []LineItem
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type Result struct {
	Outcome    Outcome
	SessionID  string
	SessionURL string
	PaymentID  uuid.UUID
	// Reason explains OrderNotPayable.
	Reason string
	// Err holds the provider failure behind ProviderError.
	Err error
}

type Orchestrator struct {
	db       *gorm.DB
	orders   OrderDirectory
	provider Provider
	guard    *idempotency.Guard
	payments *payments.Ledger
	timeout  time.Duration
	logger   *slog.Logger
}

func NewOrchestrator(
	db *gorm.DB,
	orders OrderDirectory,
	provider Provider,
	guard *idempotency.Guard,
	ledger *payments.Ledger,
	timeout time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:       db,
		orders:   orders,
		provider: provider,
		guard:    guard,
		payments: ledger,
		timeout:  timeout,
		logger:   logger,
	}
}

// CreateCheckoutSession validates the order, reserves the idempotency key,
// asks the provider for a session and records a processing payment for it.
// Expected business outcomes come back in Result; the error is reserved for
// invalid input and infrastructure faults.
func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	db := o.db.WithContext(ctx)

	order, err := o.orders.FindOrder(ctx, req.OrderID)
	if apperrors.Is(err, apperrors.KindNotFound) {
		return o.notPayable(req, "order not found"), nil
	}
	if err != nil {
		return Result{}, err
	}
	reason, err := o.payability(db, order, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if reason != "" {
		return o.notPayable(req, reason), nil
	}
	if err := matchTotal(order, req.LineItems); err != nil {
		return Result{}, err
	}

	var outcome idempotency.Outcome
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, err = o.guard.Reserve(tx, req.IdempotencyKey, reservationScope, &req.UserID)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if outcome == idempotency.AlreadyReserved {
		return Result{Outcome: DuplicateRequest}, nil
	}

	providerCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	session, err := o.provider.CreateSession(providerCtx, SessionRequest{
		OrderID:        order.ID,
		UserID:         req.UserID,
		Currency:       order.Currency,
		LineItems:      req.LineItems,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		o.logger.Error("checkout session creation failed",
			"order_id", order.ID,
			"provider", o.provider.Name(),
			"kind", apperrors.KindOf(err).String(),
			"error", err,
		)
		return Result{Outcome: ProviderError, Err: err}, nil
	}

	payment, err := o.payments.CreateProcessingPayment(db, payments.NewPayment{
		OrderID:           &order.ID,
		UserID:            &req.UserID,
		Amount:            order.Total,
		Currency:          order.Currency,
		Provider:          o.provider.Name(),
		ProviderPaymentID: session.ID,
	})
	if err != nil {
		o.logger.Error("recording payment for checkout session failed", "order_id", order.ID, "session_id", session.ID, "error", err)
		return Result{}, fmt.Errorf("record payment for session %s: %w", session.ID, err)
	}

	o.logger.Info("checkout session created",
		"order_id", order.ID,
		"payment_id", payment.ID,
		"session_id", session.ID,
		"provider", o.provider.Name(),
	)
	return Result{
		Outcome:    SessionCreated,
		SessionID:  session.ID,
		SessionURL: session.URL,
		PaymentID:  payment.ID,
	}, nil
}

// payability returns why the order cannot be paid by userID, or "".
func (o *Orchestrator) payability(db *gorm.DB, order *models.Order, userID uuid.UUID) (string, error) {
	if order.UserID != userID {
		return "order belongs to another user", nil
	}
	if !order.Payable() {
		return fmt.Sprintf("order is %s", order.Status), nil
	}
	settled, err := o.payments.HasSettled(db, order.ID)
	if err != nil {
		return "", err
	}
	if settled {
		return "order is already paid", nil
	}
	return "", nil
}

func (o *Orchestrator) notPayable(req Request, reason string) Result {
	o.logger.Info("checkout refused", "order_id", req.OrderID, "reason", reason)
	return Result{Outcome: OrderNotPayable, Reason: reason}
}

func validateRequest(req Request) error {
	if req.OrderID == uuid.Nil {
		return apperrors.Validation("orderId is required")
	}
	if req.UserID == uuid.Nil {
		return apperrors.Validation("userId is required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return apperrors.Validation("idempotencyKey is required")
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return apperrors.Validation("successUrl and cancelUrl are required")
	}
	if len(req.LineItems) == 0 {
		return apperrors.Validation("at least one line item is required")
	}
	for i, item := range req.LineItems {
		if strings.TrimSpace(item.Name) == "" {
			return apperrors.Validation("lineItems[%d].name is required", i)
		}
		if !item.UnitPrice.IsPositive() {
			return apperrors.Validation("lineItems[%d].unitPrice must be positive", i)
		}
		if item.Quantity <= 0 {
			return apperrors.Validation("lineItems[%d].quantity must be positive", i)
		}
	}
	return nil
}

// matchTotal requires the line items to add up to the order total, which is
// the amount recorded on the payment.
func matchTotal(order *models.Order, items []LineItem) error {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Subtotal())
	}
	if !sum.Round(2).Equal(order.Total.Round(2)) {
		return apperrors.Validation("line items total %s does not match order total %s", sum.StringFixed(2), order.Total.StringFixed(2))
	}
	return nil
}
