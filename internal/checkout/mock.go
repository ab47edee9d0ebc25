package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
)

// MockProvider keeps checkout sessions in memory using Stripe's object
// shapes, so its sessions flow through the same webhook path as real ones.
// Like Stripe, a repeated idempotency key returns the original session.
type MockProvider struct {
	mu       sync.Mutex
	baseURL  string
	sessions map[string]*stripe.CheckoutSession
	byKey    map[string]string
	failure  error
}

func NewMockProvider(baseURL string) *MockProvider {
	return &MockProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: make(map[string]*stripe.CheckoutSession),
		byKey:    make(map[string]string),
	}
}

func (p *MockProvider) Name() models.PaymentProvider {
	return models.PaymentProviderMock
}

func (p *MockProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProviderTransient, "create checkout session", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failure != nil {
		return nil, p.failure
	}
	if id, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return FromStripeSession(p.sessions[id])
	}

	total := decimal.Zero
	for _, item := range req.LineItems {
		total = total.Add(item.Subtotal())
	}

	id := "cs_mock_" + uuid.NewString()
	session := &stripe.CheckoutSession{
		ID:                id,
		Object:            "checkout.session",
		URL:               p.baseURL + "/mock-checkout/" + id,
		Mode:              stripe.CheckoutSessionModePayment,
		Status:            stripe.CheckoutSessionStatusOpen,
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusUnpaid,
		AmountTotal:       total.Shift(2).Round(0).IntPart(),
		Currency:          stripe.Currency(strings.ToLower(req.Currency)),
		ClientReferenceID: req.OrderID.String(),
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
		Created:           time.Now().Unix(),
		Metadata: map[string]string{
			MetadataOrderID: req.OrderID.String(),
			MetadataUserID:  req.UserID.String(),
		},
	}
	p.sessions[id] = session
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = id
	}
	return FromStripeSession(session)
}

func (p *MockProvider) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProviderTransient, "get checkout session", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.sessions[sessionID]
	if !ok {
		return nil, apperrors.New(apperrors.KindProviderPermanent, "no such checkout session: "+sessionID)
	}
	return FromStripeSession(session)
}

// Complete marks the session paid as if the customer finished checkout.
func (p *MockProvider) Complete(sessionID string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.sessions[sessionID]
	if !ok {
		return nil, apperrors.NotFound("no such checkout session: %s", sessionID)
	}
	if session.Status == stripe.CheckoutSessionStatusOpen {
		session.Status = stripe.CheckoutSessionStatusComplete
		session.PaymentStatus = stripe.CheckoutSessionPaymentStatusPaid
		session.PaymentIntent = &stripe.PaymentIntent{ID: "pi_mock_" + uuid.NewString()}
	}
	return FromStripeSession(session)
}

// Expire closes an open session without payment.
func (p *MockProvider) Expire(sessionID string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.sessions[sessionID]
	if !ok {
		return nil, apperrors.NotFound("no such checkout session: %s", sessionID)
	}
	if session.Status == stripe.CheckoutSessionStatusOpen {
		session.Status = stripe.CheckoutSessionStatusExpired
	}
	return FromStripeSession(session)
}

// SetFailure makes every CreateSession call fail with err until cleared
// with nil.
func (p *MockProvider) SetFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failure = err
}

func (p *MockProvider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
