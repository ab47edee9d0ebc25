package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Metadata keys set on sessions and their payment intents.
const (
	MetadataOrderID        = "order_id"
	MetadataUserID         = "user_id"
	metadataIdempotencyKey = "idempotency_key"
)

type StripeProvider struct {
	api *client.API
}

// NewStripeProvider builds a provider on the Stripe API. A nil backends
// uses Stripe's production endpoints.
func NewStripeProvider(secretKey string, backends *stripe.Backends) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) Name() models.PaymentProvider {
	return models.PaymentProviderStripe
}

func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			productData.Description = stripe.String(item.Description)
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(req.Currency)),
				UnitAmount:  stripe.Int64(item.UnitPrice.Shift(2).Round(0).IntPart()),
				ProductData: productData,
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.OrderID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				MetadataOrderID: req.OrderID.String(),
				MetadataUserID:  req.UserID.String(),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, req.OrderID.String())
	params.AddMetadata(MetadataUserID, req.UserID.String())
	if req.IdempotencyKey != "" {
		params.AddMetadata(metadataIdempotencyKey, req.IdempotencyKey)
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError("create checkout session", err)
	}
	return FromStripeSession(session)
}

func (p *StripeProvider) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classifyStripeError("get checkout session", err)
	}
	return FromStripeSession(session)
}

// FromStripeSession converts a checkout session decoded from an API response
// or a webhook event payload.
func FromStripeSession(session *stripe.CheckoutSession) (*Session, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "encode checkout session", err)
	}

	out := &Session{
		ID:      session.ID,
		URL:     session.URL,
		Paid:    session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Expired: session.Status == stripe.CheckoutSessionStatusExpired,
		OrderID: session.Metadata[MetadataOrderID],
		Raw:     raw,
	}
	if out.OrderID == "" {
		out.OrderID = session.ClientReferenceID
	}
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	return out, nil
}

// classifyStripeError separates failures worth retrying with a new key
// (network, rate limit, Stripe 5xx) from requests Stripe refused outright.
func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return apperrors.Wrap(apperrors.KindProviderTransient, op, err)
	}
	if stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
		stripeErr.Type == stripe.ErrorTypeAPI {
		return apperrors.Wrap(apperrors.KindProviderTransient, op, err)
	}
	return apperrors.Wrap(apperrors.KindProviderPermanent, op, err)
}
