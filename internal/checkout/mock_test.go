package checkout

import (
	"context"
	"testing"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_Lifecycle(t *testing.T) {
	provider := NewMockProvider("http://localhost:8080/")
	ctx := context.Background()
	orderID := uuid.New()

	created, err := provider.CreateSession(ctx, SessionRequest{
		OrderID:        orderID,
		UserID:         uuid.New(),
		Currency:       "USD",
		LineItems:      []LineItem{{Name: "Tea", UnitPrice: decimal.RequireFromString("3.00"), Quantity: 1}},
		IdempotencyKey: "K1",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/mock-checkout/"+created.ID, created.URL)
	assert.Equal(t, orderID.String(), created.OrderID)
	assert.False(t, created.Paid)
	assert.Contains(t, string(created.Raw), `"currency":"usd"`)

	again, err := provider.CreateSession(ctx, SessionRequest{OrderID: orderID, IdempotencyKey: "K1"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, 1, provider.SessionCount())

	completed, err := provider.Complete(created.ID)
	require.NoError(t, err)
	assert.True(t, completed.Paid)
	assert.Contains(t, completed.PaymentIntentID, "pi_mock_")

	expired, err := provider.Expire(created.ID)
	require.NoError(t, err)
	assert.False(t, expired.Expired, "a completed session cannot expire")

	fetched, err := provider.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Paid)
	assert.Equal(t, completed.PaymentIntentID, fetched.PaymentIntentID)
}

func TestMockProvider_UnknownSession(t *testing.T) {
	provider := NewMockProvider("http://localhost")

	_, err := provider.GetSession(context.Background(), "cs_missing")
	assert.True(t, apperrors.Is(err, apperrors.KindProviderPermanent))

	_, err = provider.Complete("cs_missing")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestMockProvider_CancelledContext(t *testing.T) {
	provider := NewMockProvider("http://localhost")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.CreateSession(ctx, SessionRequest{OrderID: uuid.New()})
	assert.True(t, apperrors.Is(err, apperrors.KindProviderTransient))
	assert.Zero(t, provider.SessionCount())
}
