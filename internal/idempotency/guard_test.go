package idempotency

import (
	"sync"
	"testing"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/farellandr/orderpay/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func reserve(t *testing.T, db *gorm.DB, g *Guard, key string) Outcome {
	t.Helper()
	var outcome Outcome
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		outcome, err = g.Reserve(tx, key, "checkout", nil)
		return err
	})
	require.NoError(t, err)
	return outcome
}

func TestReserve_SecondCallIsAlreadyReserved(t *testing.T) {
	db := testutil.NewDB(t)
	g := NewGuard(24*time.Hour, testutil.Logger())

	assert.Equal(t, Reserved, reserve(t, db, g, "K1"))
	assert.Equal(t, AlreadyReserved, reserve(t, db, g, "K1"))
	assert.Equal(t, Reserved, reserve(t, db, g, "K2"))

	var count int64
	require.NoError(t, db.Model(&models.IdempotencyKey{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestReserve_StoresScopeUserAndExpiry(t *testing.T) {
	db := testutil.NewDB(t)
	g := NewGuard(time.Hour, testutil.Logger())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }
	userID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		outcome, err := g.Reserve(tx, "  K1  ", "checkout", &userID)
		assert.Equal(t, Reserved, outcome)
		return err
	})
	require.NoError(t, err)

	record, err := g.Lookup(db, "K1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", record.Scope)
	require.NotNil(t, record.UserID)
	assert.Equal(t, userID, *record.UserID)
	require.NotNil(t, record.ExpiresAt)
	assert.True(t, record.ExpiresAt.Equal(fixed.Add(time.Hour)))
	assert.Equal(t, 1, record.Generation)
}

func TestReserve_ExpiredKeyIsReclaimedAndRowRetained(t *testing.T) {
	db := testutil.NewDB(t)
	g := NewGuard(time.Hour, testutil.Logger())
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()

	reserveAs := func(userID uuid.UUID, scope string) Outcome {
		var outcome Outcome
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			var err error
			outcome, err = g.Reserve(tx, "K1", scope, &userID)
			return err
		}))
		return outcome
	}

	g.now = func() time.Time { return start }
	assert.Equal(t, Reserved, reserveAs(first, "checkout"))

	g.now = func() time.Time { return start.Add(30 * time.Minute) }
	assert.Equal(t, AlreadyReserved, reserveAs(second, "checkout"))

	reclaimedAt := start.Add(2 * time.Hour)
	g.now = func() time.Time { return reclaimedAt }
	assert.Equal(t, Reserved, reserveAs(second, "refund"))
	assert.Equal(t, AlreadyReserved, reserveAs(first, "checkout"))

	latest, err := g.Lookup(db, "K1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Generation)
	require.NotNil(t, latest.UserID)
	assert.Equal(t, second, *latest.UserID)

	history, err := g.History(db, "K1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	original := history[0]
	assert.Equal(t, 1, original.Generation)
	assert.Equal(t, "checkout", original.Scope)
	require.NotNil(t, original.UserID)
	assert.Equal(t, first, *original.UserID)
	assert.True(t, original.CreatedAt.Equal(start), "created_at %v", original.CreatedAt)
	require.NotNil(t, original.ExpiresAt)
	assert.True(t, original.ExpiresAt.Equal(start.Add(time.Hour)))

	assert.Equal(t, "refund", history[1].Scope)
	assert.True(t, history[1].CreatedAt.Equal(reclaimedAt))
}

func TestReserve_ConcurrentReclaimHasOneWinner(t *testing.T) {
	db := testutil.NewDB(t)
	g := NewGuard(time.Hour, testutil.Logger())
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return start }
	assert.Equal(t, Reserved, reserve(t, db, g, "K1"))

	g.now = func() time.Time { return start.Add(2 * time.Hour) }
	const callers = 8
	outcomes := make(chan Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.Transaction(func(tx *gorm.DB) error {
				outcome, err := g.Reserve(tx, "K1", "checkout", nil)
				if err == nil {
					outcomes <- outcome
				}
				return err
			})
		}()
	}
	wg.Wait()
	close(outcomes)

	reserved := 0
	for outcome := range outcomes {
		if outcome == Reserved {
			reserved++
		}
	}
	assert.Equal(t, 1, reserved)

	history, err := g.History(db, "K1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestReserve_ZeroTTLNeverExpires(t *testing.T) {
	db := testutil.NewDB(t)
	g := NewGuard(0, testutil.Logger())

	assert.Equal(t, Reserved, reserve(t, db, g, "K1"))
	g.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }
	assert.Equal(t, AlreadyReserved, reserve(t, db, g, "K1"))
}

func TestReserve_RejectsMalformedKeys(t *testing.T) {
	db := testutil.NewDB(t)
	g := NewGuard(time.Hour, testutil.Logger())

	for _, key := range []string{"", "   ", string(make([]byte, maxKeyLength+1))} {
		_, err := g.Reserve(db, key, "checkout", nil)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation), "key %q", key)
	}
}

func TestReserve_ConcurrentDuplicatesHaveOneWinner(t *testing.T) {
	db := testutil.NewDB(t)
	g := NewGuard(time.Hour, testutil.Logger())

	const callers = 16
	outcomes := make(chan Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.Transaction(func(tx *gorm.DB) error {
				outcome, err := g.Reserve(tx, "same-key", "checkout", nil)
				if err == nil {
					outcomes <- outcome
				}
				return err
			})
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for outcome := range outcomes {
		counts[outcome]++
	}
	assert.Equal(t, 1, counts[Reserved])
	assert.Equal(t, callers-1, counts[AlreadyReserved])
}
