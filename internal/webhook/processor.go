// Package webhook applies payment provider events to the payments and
// loyalty ledgers.
//
// Each verified event is handled in one database transaction that records
// the event id, transitions the payment and awards settlement points, so a
// redelivered event finds its id already recorded and changes nothing.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/checkout"
	"github.com/farellandr/orderpay/internal/loyalty"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/farellandr/orderpay/internal/payments"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Outcome int

const (
	Processed Outcome = iota + 1
	SignatureInvalid
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case SignatureInvalid:
		return "signature_invalid"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome       Outcome
	EventID       string
	EventType     string
	PaymentID     uuid.UUID
	Status        models.PaymentStatus
	PointsAwarded int64
	Reason        string
}

type Config struct {
	Secret          string
	PointsPerUnit   int64
	Tolerance       time.Duration
	ProviderTimeout time.Duration
}

type Processor struct {
	db            *gorm.DB
	provider      checkout.Provider
	payments      *payments.Ledger
	loyalty       *loyalty.Ledger
	secret        string
	pointsPerUnit decimal.Decimal
	tolerance     time.Duration
	timeout       time.Duration
	logger        *slog.Logger
}

func NewProcessor(
	db *gorm.DB,
	provider checkout.Provider,
	paymentLedger *payments.Ledger,
	loyaltyLedger *loyalty.Ledger,
	cfg Config,
	logger *slog.Logger,
) *Processor {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = stripewebhook.DefaultTolerance
	}
	return &Processor{
		db:            db,
		provider:      provider,
		payments:      paymentLedger,
		loyalty:       loyaltyLedger,
		secret:        cfg.Secret,
		pointsPerUnit: decimal.NewFromInt(cfg.PointsPerUnit),
		tolerance:     tolerance,
		timeout:       cfg.ProviderTimeout,
		logger:        logger,
	}
}

// HandleEvent verifies and applies one webhook delivery. Duplicate, stale
// and unrecognised events come back Ignored with a nil error; the caller
// acknowledges them so the provider stops retrying. A non-nil error means
// nothing was recorded and the delivery should be retried.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (Result, error) {
	event, err := stripewebhook.ConstructEventWithOptions(payload, signatureHeader, p.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		p.logger.Warn("webhook rejected",
			"kind", apperrors.KindSignatureInvalid.String(),
			"error", err,
		)
		return Result{Outcome: SignatureInvalid, Reason: err.Error()}, nil
	}

	result := Result{EventID: event.ID, EventType: string(event.Type)}
	if event.ID == "" {
		result.Outcome = Ignored
		result.Reason = "event has no id"
		return result, nil
	}

	plan, reason, err := planFor(event)
	if err != nil {
		p.logger.Warn("webhook event payload unreadable", "event_id", event.ID, "event_type", event.Type, "error", err)
		plan, reason = nil, "unreadable event object"
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.WebhookEvent{
			Provider:        string(p.provider.Name()),
			ProviderEventID: event.ID,
			EventType:       string(event.Type),
			Payload:         datatypes.JSON(payload),
			CreatedAt:       time.Now().UTC(),
		}
		inserted := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).Create(&record)
		if inserted.Error != nil {
			return fmt.Errorf("record webhook event %s: %w", event.ID, inserted.Error)
		}
		if inserted.RowsAffected == 0 {
			result.Outcome = Ignored
			result.Reason = "duplicate event"
			return nil
		}

		if plan == nil {
			result.Outcome = Ignored
			result.Reason = reason
		} else {
			applied, err := p.apply(tx, plan, event.ID)
			if err != nil {
				return err
			}
			applied.EventID, applied.EventType = result.EventID, result.EventType
			result = applied
		}

		return tx.Model(&models.WebhookEvent{}).
			Where("id = ?", record.ID).
			Update("outcome", result.Outcome.String()).Error
	})
	if err != nil {
		p.logger.Error("webhook processing failed", "event_id", event.ID, "event_type", event.Type, "error", err)
		return Result{}, err
	}

	p.logger.Info("webhook handled",
		"event_id", result.EventID,
		"event_type", result.EventType,
		"outcome", result.Outcome.String(),
		"payment_id", result.PaymentID,
		"points_awarded", result.PointsAwarded,
		"reason", result.Reason,
	)
	return result, nil
}

// VerifySession re-reads a checkout session from the provider and applies
// what it reports through the same path as a webhook. It covers sessions
// whose webhook never arrived.
func (p *Processor) VerifySession(ctx context.Context, sessionID string) (*models.Payment, error) {
	db := p.db.WithContext(ctx)

	payment, err := p.payments.GetByProviderPaymentID(db, sessionID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusProcessing {
		return payment, nil
	}

	providerCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		providerCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	session, err := p.provider.GetSession(providerCtx, sessionID)
	if err != nil {
		return nil, err
	}

	plan, reason, err := sessionPlan("", session)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		p.logger.Info("checkout session verified", "session_id", sessionID, "reason", reason)
		return payment, nil
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := p.apply(tx, plan, "verify:"+sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p.payments.Get(db, payment.ID)
}

// apply resolves the payment a plan refers to, transitions it, and awards
// points when the transition settled it.
func (p *Processor) apply(tx *gorm.DB, plan *plan, source string) (Result, error) {
	payment, err := p.findPayment(tx, plan.match)
	if apperrors.Is(err, apperrors.KindNotFound) {
		return Result{Outcome: Ignored, Reason: "no matching payment"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	transition, err := p.payments.TransitionTo(tx, payment.ID, plan.transition)
	if err != nil {
		return Result{}, err
	}
	result := Result{PaymentID: payment.ID, Status: transition.Payment.Status}
	if !transition.Applied {
		result.Outcome = Ignored
		result.Reason = transition.Reason
		return result, nil
	}

	result.Outcome = Processed
	if plan.transition.To == models.PaymentStatusSucceeded {
		points, err := p.award(tx, transition.Payment, source)
		if err != nil {
			return Result{}, err
		}
		result.PointsAwarded = points
	}
	return result, nil
}

func (p *Processor) findPayment(tx *gorm.DB, m match) (*models.Payment, error) {
	if m.SessionID != "" {
		return p.payments.GetByProviderPaymentID(tx, m.SessionID)
	}
	if m.PaymentIntentID != "" {
		payment, err := p.payments.GetByProviderChargeID(tx, m.PaymentIntentID)
		if err == nil || !apperrors.Is(err, apperrors.KindNotFound) || m.OrderID == "" {
			return payment, err
		}
	}
	if m.OrderID != "" {
		orderID, err := uuid.Parse(m.OrderID)
		if err != nil {
			return nil, apperrors.NotFound("no payment for order %q", m.OrderID)
		}
		return p.payments.GetByOrder(tx, orderID)
	}
	return nil, apperrors.NotFound("event does not reference a payment")
}

// award credits settlement points for a succeeded payment. The order id is
// the ledger reference, so an order is rewarded at most once however many
// events or verifications settle it.
func (p *Processor) award(tx *gorm.DB, payment *models.Payment, source string) (int64, error) {
	if payment.UserID == nil {
		return 0, nil
	}
	points := payment.Amount.Mul(p.pointsPerUnit).Floor().IntPart()
	if points <= 0 {
		return 0, nil
	}

	reference := payment.ID.String()
	if payment.OrderID != nil {
		reference = payment.OrderID.String()
	}
	metadata, err := json.Marshal(map[string]string{
		"paymentId": payment.ID.String(),
		"amount":    payment.Amount.StringFixed(2),
		"currency":  payment.Currency,
		"source":    source,
	})
	if err != nil {
		return 0, fmt.Errorf("encode award metadata: %w", err)
	}

	result, err := p.loyalty.AddPoints(tx, loyalty.AddPointsRequest{
		UserID:      *payment.UserID,
		Points:      points,
		Reason:      loyalty.ReasonOrderSettlement,
		ReferenceID: reference,
		Metadata:    metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("award settlement points for payment %s: %w", payment.ID, err)
	}
	if result.Outcome != loyalty.Applied {
		return 0, nil
	}
	return points, nil
}

// EncodeEvent builds an unsigned event payload in the provider's format.
// The mock provider uses it to synthesise events for its sessions.
func EncodeEvent(eventID, eventType string, object json.RawMessage) ([]byte, error) {
	event := map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]json.RawMessage{"object": object},
	}
	return json.Marshal(event)
}
