package loyalty

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/farellandr/orderpay/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func award(t *testing.T, db *gorm.DB, l *Ledger, userID uuid.UUID, points int64, ref string) Result {
	t.Helper()
	result, err := l.AddPoints(db, AddPointsRequest{
		UserID:      userID,
		Points:      points,
		Reason:      ReasonOrderSettlement,
		ReferenceID: ref,
	})
	require.NoError(t, err)
	return result
}

func TestAddPoints_CreatesAccountLazily(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()

	result := award(t, db, l, userID, 250, "order-1")

	assert.Equal(t, Applied, result.Outcome)
	require.NotNil(t, result.Account)
	assert.Equal(t, userID, result.Account.UserID)
	assert.Equal(t, int64(250), result.Account.PointsBalance)
	assert.Equal(t, int64(250), result.Account.LifetimePoints)
	assert.Equal(t, models.LoyaltyTierSilver, result.Account.Tier)
	assert.True(t, result.Account.IsActive)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, int64(250), result.Transaction.ChangeAmount)

	stored, err := l.GetAccountByUser(db, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), stored.PointsBalance)
	assert.Equal(t, models.LoyaltyTierSilver, stored.Tier)
	assert.NoError(t, l.CheckBalance(db, stored.ID))
}

func TestAddPoints_DuplicateReference(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()

	first := award(t, db, l, userID, 100, "order-1")
	second := award(t, db, l, userID, 100, "order-1")

	assert.Equal(t, Applied, first.Outcome)
	assert.Equal(t, AlreadyApplied, second.Outcome)

	balance, err := l.Balance(db, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	var count int64
	require.NoError(t, db.Model(&models.LoyaltyTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAddPoints_SameReferenceDifferentReason(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()

	award(t, db, l, userID, 100, "order-1")
	result, err := l.AddPoints(db, AddPointsRequest{
		UserID:      userID,
		Points:      50,
		Reason:      "promotion",
		ReferenceID: "order-1",
	})
	require.NoError(t, err)

	assert.Equal(t, Applied, result.Outcome)
	assert.Equal(t, int64(150), result.Account.PointsBalance)
}

func TestAddPoints_WithoutReferenceIsNotDeduplicated(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()

	award(t, db, l, userID, 10, "")
	result := award(t, db, l, userID, 10, "")

	assert.Equal(t, Applied, result.Outcome)
	assert.Equal(t, int64(20), result.Account.PointsBalance)
}

func TestAddPoints_InactiveAccount(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()

	account, created, err := l.CreateAccount(db, userID)
	require.NoError(t, err)
	require.True(t, created)
	_, err = l.SetActive(db, account.ID, false)
	require.NoError(t, err)

	result := award(t, db, l, userID, 100, "order-1")
	assert.Equal(t, AccountInactive, result.Outcome)

	balance, err := l.Balance(db, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestAddPoints_Validation(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())

	tests := []struct {
		name string
		req  AddPointsRequest
	}{
		{"missing user", AddPointsRequest{Points: 10, Reason: "x"}},
		{"zero points", AddPointsRequest{UserID: uuid.New(), Reason: "x"}},
		{"negative points", AddPointsRequest{UserID: uuid.New(), Points: -5, Reason: "x"}},
		{"blank reason", AddPointsRequest{UserID: uuid.New(), Points: 10, Reason: "  "}},
		{"bad metadata", AddPointsRequest{UserID: uuid.New(), Points: 10, Reason: "x", Metadata: json.RawMessage("{")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.AddPoints(db, tt.req)
			assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)
		})
	}
}

func TestRedeemPoints(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()
	award(t, db, l, userID, 100, "order-1")

	t.Run("more than balance", func(t *testing.T) {
		result, err := l.RedeemPoints(db, RedeemPointsRequest{UserID: userID, Points: 150, RewardType: "voucher"})
		require.NoError(t, err)
		assert.Equal(t, InsufficientPoints, result.Outcome)

		balance, err := l.Balance(db, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)

		var count int64
		require.NoError(t, db.Model(&models.LoyaltyRedemption{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("within balance", func(t *testing.T) {
		result, err := l.RedeemPoints(db, RedeemPointsRequest{
			UserID:         userID,
			Points:         60,
			RewardType:     "voucher",
			RewardMetadata: json.RawMessage(`{"code":"TEN"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, Applied, result.Outcome)
		assert.Equal(t, int64(40), result.Account.PointsBalance)
		assert.Equal(t, int64(100), result.Account.LifetimePoints)
		require.NotNil(t, result.Redemption)
		assert.Equal(t, int64(60), result.Redemption.PointsUsed)
		require.NotNil(t, result.Transaction)
		assert.Equal(t, int64(-60), result.Transaction.ChangeAmount)
		assert.Equal(t, result.Redemption.ID.String(), *result.Transaction.ReferenceID)
		assert.NoError(t, l.CheckBalance(db, result.Account.ID))
	})

	t.Run("exact balance", func(t *testing.T) {
		result, err := l.RedeemPoints(db, RedeemPointsRequest{UserID: userID, Points: 40, RewardType: "voucher"})
		require.NoError(t, err)
		assert.Equal(t, Applied, result.Outcome)
		assert.Zero(t, result.Account.PointsBalance)
	})

	t.Run("tier does not regress", func(t *testing.T) {
		account, err := l.GetAccountByUser(db, userID)
		require.NoError(t, err)
		assert.Equal(t, models.LoyaltyTierSilver, account.Tier)
	})
}

func TestRedeemPoints_NoAccount(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())

	result, err := l.RedeemPoints(db, RedeemPointsRequest{UserID: uuid.New(), Points: 1, RewardType: "voucher"})
	require.NoError(t, err)
	assert.Equal(t, InsufficientPoints, result.Outcome)

	var count int64
	require.NoError(t, db.Model(&models.LoyaltyAccount{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRedeemPoints_InactiveAccount(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()
	first := award(t, db, l, userID, 100, "order-1")
	_, err := l.SetActive(db, first.Account.ID, false)
	require.NoError(t, err)

	result, err := l.RedeemPoints(db, RedeemPointsRequest{UserID: userID, Points: 10, RewardType: "voucher"})
	require.NoError(t, err)
	assert.Equal(t, AccountInactive, result.Outcome)
}

func TestRedeemPoints_ConcurrentNeverOverdraws(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()
	award(t, db, l, userID, 100, "order-1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := l.RedeemPoints(db, RedeemPointsRequest{UserID: userID, Points: 30, RewardType: "voucher"})
			assert.NoError(t, err)
			if result.Outcome == Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, applied)
	balance, err := l.Balance(db, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestAddPoints_ConcurrentSameReference(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := l.AddPoints(db, AddPointsRequest{UserID: userID, Points: 25, Reason: ReasonOrderSettlement, ReferenceID: "order-7"})
			assert.NoError(t, err)
			if result.Outcome == Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	balance, err := l.Balance(db, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)
}

// Any interleaving of awards and redemptions keeps the cached folds equal to
// the log and the balance non-negative.
func TestLedger_RandomOperationsPreserveFolds(t *testing.T) {
	db := testutil.NewDB(t)
	l := NewLedger(testutil.Logger())
	userID := uuid.New()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		points := int64(rng.Intn(50) + 1)
		if rng.Intn(3) == 0 {
			_, err := l.RedeemPoints(db, RedeemPointsRequest{UserID: userID, Points: points, RewardType: "voucher"})
			require.NoError(t, err)
		} else {
			ref := fmt.Sprintf("order-%d", rng.Intn(60))
			award(t, db, l, userID, points, ref)
		}

		account, err := l.GetAccountByUser(db, userID)
		if apperrors.Is(err, apperrors.KindNotFound) {
			continue
		}
		require.NoError(t, err)
		require.GreaterOrEqual(t, account.PointsBalance, int64(0))
		require.Equal(t, TierFor(account.LifetimePoints), account.Tier)
		require.NoError(t, l.CheckBalance(db, account.ID))
	}
}
