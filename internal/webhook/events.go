package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/farellandr/orderpay/internal/checkout"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/farellandr/orderpay/internal/payments"
	"github.com/stripe/stripe-go/v81"
)

const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired        = "checkout.session.expired"
	EventPaymentIntentSucceeded        = "payment_intent.succeeded"
	EventPaymentIntentFailed           = "payment_intent.payment_failed"
	EventChargeRefunded                = "charge.refunded"
)

// match identifies the payment an event refers to. The first non-empty
// field wins.
type match struct {
	SessionID       string
	PaymentIntentID string
	OrderID         string
}

// plan is what an event asks of the payments ledger. A nil plan means the
// event carries nothing to apply.
type plan struct {
	match      match
	transition payments.Transition
}

// planFor decodes the event object and maps the event type to a target
// payment status. The second return value explains a nil plan.
func planFor(event stripe.Event) (*plan, string, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, "event has no data object", nil
	}
	raw := event.Data.Raw

	switch string(event.Type) {
	case EventCheckoutSessionCompleted, EventCheckoutAsyncPaymentSucceeded,
		EventCheckoutAsyncPaymentFailed, EventCheckoutSessionExpired:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, "", fmt.Errorf("decode checkout session: %w", err)
		}
		converted, err := checkout.FromStripeSession(&session)
		if err != nil {
			return nil, "", err
		}
		return sessionPlan(string(event.Type), converted)

	case EventPaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return nil, "", fmt.Errorf("decode payment intent: %w", err)
		}
		return &plan{
			match: match{PaymentIntentID: intent.ID, OrderID: intent.Metadata[checkout.MetadataOrderID]},
			transition: payments.Transition{
				To:               models.PaymentStatusSucceeded,
				ProviderChargeID: intent.ID,
				RawResponse:      raw,
			},
		}, "", nil

	case EventPaymentIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return nil, "", fmt.Errorf("decode payment intent: %w", err)
		}
		message := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			message = intent.LastPaymentError.Msg
		}
		return &plan{
			match: match{PaymentIntentID: intent.ID, OrderID: intent.Metadata[checkout.MetadataOrderID]},
			transition: payments.Transition{
				To:               models.PaymentStatusFailed,
				ProviderChargeID: intent.ID,
				RawResponse:      raw,
				FailureMessage:   message,
			},
		}, "", nil

	case EventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(raw, &charge); err != nil {
			return nil, "", fmt.Errorf("decode charge: %w", err)
		}
		if !charge.Refunded {
			return nil, "charge only partially refunded", nil
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return nil, "charge has no payment intent", nil
		}
		return &plan{
			match: match{PaymentIntentID: charge.PaymentIntent.ID},
			transition: payments.Transition{
				To:          models.PaymentStatusRefunded,
				RawResponse: raw,
			},
		}, "", nil
	}

	return nil, fmt.Sprintf("unhandled event type %s", event.Type), nil
}

// sessionPlan maps a checkout session event, or a session read back from the
// provider when eventType is empty, to a transition.
func sessionPlan(eventType string, session *checkout.Session) (*plan, string, error) {
	p := &plan{
		match: match{SessionID: session.ID},
		transition: payments.Transition{
			ProviderPaymentID: session.ID,
			ProviderChargeID:  session.PaymentIntentID,
			RawResponse:       session.Raw,
		},
	}

	switch eventType {
	case EventCheckoutSessionCompleted, "":
		switch {
		case session.Paid:
			p.transition.To = models.PaymentStatusSucceeded
		case session.Expired:
			p.transition.To = models.PaymentStatusCancelled
		default:
			return nil, "checkout session not paid yet", nil
		}
	case EventCheckoutAsyncPaymentSucceeded:
		p.transition.To = models.PaymentStatusSucceeded
	case EventCheckoutAsyncPaymentFailed:
		p.transition.To = models.PaymentStatusFailed
		p.transition.FailureMessage = "asynchronous payment failed"
	case EventCheckoutSessionExpired:
		p.transition.To = models.PaymentStatusCancelled
	}
	return p, "", nil
}
