// Package loyalty maintains per-user point balances as a fold over an
// append-only transaction log.
//
// Every mutation runs in a single transaction that locks the account row,
// appends to the log and adjusts the cached balance, so the balance always
// equals the sum of the account's ChangeAmount values. When the handle passed
// in is already a transaction the work runs under a savepoint of it.
package loyalty

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ReasonOrderSettlement = "order_settlement"
	ReasonRedemption      = "redemption"

	maxReasonLength = 100
	recentLimit     = 10
)

// IsReservedReason reports whether reason belongs to awards and debits the
// ledger writes itself. Callers outside the ledger must not use them: the
// (reference, reason) pair of a settlement is what keeps an order from being
// rewarded twice.
func IsReservedReason(reason string) bool {
	reason = strings.TrimSpace(reason)
	return strings.EqualFold(reason, ReasonOrderSettlement) || strings.EqualFold(reason, ReasonRedemption)
}

type Outcome int

const (
	Applied Outcome = iota + 1
	AlreadyApplied
	AccountInactive
	InsufficientPoints
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadyApplied:
		return "already_applied"
	case AccountInactive:
		return "account_inactive"
	case InsufficientPoints:
		return "insufficient_points"
	default:
		return "unknown"
	}
}

type AddPointsRequest struct {
	UserID      uuid.UUID
	Points      int64
	Reason      string
	ReferenceID string
	Metadata    json.RawMessage
}

type RedeemPointsRequest struct {
	UserID         uuid.UUID
	Points         int64
	RewardType     string
	RewardMetadata json.RawMessage
}

type Result struct {
	Outcome     Outcome
	Account     *models.LoyaltyAccount
	Transaction *models.LoyaltyTransaction
	Redemption  *models.LoyaltyRedemption
}

type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{logger: logger, now: time.Now}
}

// AddPoints credits req.Points to the user's account, creating the account
// on first use. With a ReferenceID, a second award for the same
// (ReferenceID, Reason) returns AlreadyApplied and writes nothing.
func (l *Ledger) AddPoints(db *gorm.DB, req AddPointsRequest) (Result, error) {
	reason := strings.TrimSpace(req.Reason)
	if err := validateAward(req, reason); err != nil {
		return Result{}, err
	}

	var result Result
	err := db.Transaction(func(tx *gorm.DB) error {
		account, err := l.lockAccount(tx, req.UserID, true)
		if err != nil {
			return err
		}
		result.Account = account

		if !account.IsActive {
			result.Outcome = AccountInactive
			return nil
		}

		var referenceID *string
		if ref := strings.TrimSpace(req.ReferenceID); ref != "" {
			referenceID = &ref

			var existing models.LoyaltyTransaction
			err := tx.Where("reference_id = ? AND reason = ?", ref, reason).First(&existing).Error
			switch {
			case err == nil:
				result.Outcome = AlreadyApplied
				result.Transaction = &existing
				return nil
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("check loyalty reference %s: %w", ref, err)
			}
		}

		now := l.now().UTC()
		entry := models.LoyaltyTransaction{
			LoyaltyAccountID: account.ID,
			ChangeAmount:     req.Points,
			Reason:           reason,
			ReferenceID:      referenceID,
			Metadata:         jsonOrNil(req.Metadata),
			CreatedAt:        now,
		}
		err = tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(&entry).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			result.Outcome = AlreadyApplied
			return nil
		}
		if err != nil {
			return fmt.Errorf("append loyalty transaction: %w", err)
		}

		lifetime := account.LifetimePoints + req.Points
		tier := TierFor(lifetime)
		if err := tx.Model(&models.LoyaltyAccount{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
			"points_balance":  gorm.Expr("points_balance + ?", req.Points),
			"lifetime_points": gorm.Expr("lifetime_points + ?", req.Points),
			"tier":            tier,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("credit loyalty account %s: %w", account.ID, err)
		}

		if tier != account.Tier {
			l.logger.Info("loyalty tier changed", "account_id", account.ID, "from", account.Tier, "to", tier, "lifetime_points", lifetime)
		}
		account.PointsBalance += req.Points
		account.LifetimePoints = lifetime
		account.Tier = tier
		account.UpdatedAt = now

		result.Outcome = Applied
		result.Transaction = &entry
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	switch result.Outcome {
	case Applied:
		l.logger.Info("loyalty points added", "user_id", req.UserID, "points", req.Points, "reason", reason, "reference_id", req.ReferenceID, "balance", result.Account.PointsBalance)
	case AlreadyApplied:
		l.logger.Info("loyalty award already applied", "user_id", req.UserID, "reason", reason, "reference_id", req.ReferenceID, "kind", apperrors.KindConflict.String())
	case AccountInactive:
		l.logger.Info("loyalty award refused for inactive account", "user_id", req.UserID)
	}
	return result, nil
}

// RedeemPoints debits req.Points and records the redemption. The balance is
// re-read under the row lock so a concurrent redemption cannot overdraw it.
// A user without an account has nothing to redeem.
func (l *Ledger) RedeemPoints(db *gorm.DB, req RedeemPointsRequest) (Result, error) {
	rewardType := strings.TrimSpace(req.RewardType)
	if err := validateRedemption(req, rewardType); err != nil {
		return Result{}, err
	}

	var result Result
	err := db.Transaction(func(tx *gorm.DB) error {
		account, err := l.lockAccount(tx, req.UserID, false)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Outcome = InsufficientPoints
			return nil
		}
		if err != nil {
			return err
		}
		result.Account = account

		if !account.IsActive {
			result.Outcome = AccountInactive
			return nil
		}
		if req.Points > account.PointsBalance {
			result.Outcome = InsufficientPoints
			return nil
		}

		now := l.now().UTC()
		redemption := models.LoyaltyRedemption{
			ID:               uuid.New(),
			LoyaltyAccountID: account.ID,
			PointsUsed:       req.Points,
			RewardType:       rewardType,
			RewardMetadata:   jsonOrNil(req.RewardMetadata),
			CreatedAt:        now,
		}
		if err := tx.Create(&redemption).Error; err != nil {
			return fmt.Errorf("record redemption: %w", err)
		}

		referenceID := redemption.ID.String()
		metadata, err := json.Marshal(map[string]string{"rewardType": rewardType})
		if err != nil {
			return fmt.Errorf("encode redemption metadata: %w", err)
		}
		entry := models.LoyaltyTransaction{
			LoyaltyAccountID: account.ID,
			ChangeAmount:     -req.Points,
			Reason:           ReasonRedemption,
			ReferenceID:      &referenceID,
			Metadata:         datatypes.JSON(metadata),
			CreatedAt:        now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("append loyalty transaction: %w", err)
		}

		if err := tx.Model(&models.LoyaltyAccount{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
			"points_balance": gorm.Expr("points_balance - ?", req.Points),
			"updated_at":     now,
		}).Error; err != nil {
			return fmt.Errorf("debit loyalty account %s: %w", account.ID, err)
		}
		account.PointsBalance -= req.Points
		account.UpdatedAt = now

		result.Outcome = Applied
		result.Transaction = &entry
		result.Redemption = &redemption
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	switch result.Outcome {
	case Applied:
		l.logger.Info("loyalty points redeemed", "user_id", req.UserID, "points", req.Points, "reward_type", rewardType, "balance", result.Account.PointsBalance)
	case InsufficientPoints:
		l.logger.Info("loyalty redemption refused", "user_id", req.UserID, "points", req.Points, "kind", apperrors.KindInsufficientPoints.String())
	case AccountInactive:
		l.logger.Info("loyalty redemption refused for inactive account", "user_id", req.UserID)
	}
	return result, nil
}

// lockAccount reads the user's account with a row lock. With create set, a
// missing account is inserted first; a concurrent insert for the same user
// is absorbed by the unique index on user_id.
func (l *Ledger) lockAccount(tx *gorm.DB, userID uuid.UUID, create bool) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&account).Error
	switch {
	case err == nil:
		return &account, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("lock loyalty account for user %s: %w", userID, err)
	case !create:
		return nil, err
	}

	if _, err := l.insertAccount(tx, userID); err != nil {
		return nil, err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, fmt.Errorf("lock new loyalty account for user %s: %w", userID, err)
	}
	return &account, nil
}

func (l *Ledger) insertAccount(tx *gorm.DB, userID uuid.UUID) (bool, error) {
	now := l.now().UTC()
	account := models.LoyaltyAccount{
		UserID:    userID,
		Tier:      models.LoyaltyTierBronze,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&account)
	if result.Error != nil {
		return false, fmt.Errorf("create loyalty account for user %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 1 {
		l.logger.Info("loyalty account created", "user_id", userID, "account_id", account.ID)
		return true, nil
	}
	return false, nil
}

func validateAward(req AddPointsRequest, reason string) error {
	if req.UserID == uuid.Nil {
		return apperrors.Validation("userId is required")
	}
	if req.Points <= 0 {
		return apperrors.Validation("points must be positive")
	}
	if reason == "" {
		return apperrors.Validation("reason is required")
	}
	if len(reason) > maxReasonLength {
		return apperrors.Validation("reason must be at most %d characters", maxReasonLength)
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		return apperrors.Validation("metadata must be valid JSON")
	}
	return nil
}

func validateRedemption(req RedeemPointsRequest, rewardType string) error {
	if req.UserID == uuid.Nil {
		return apperrors.Validation("userId is required")
	}
	if req.Points <= 0 {
		return apperrors.Validation("points must be positive")
	}
	if rewardType == "" {
		return apperrors.Validation("rewardType is required")
	}
	if len(rewardType) > maxReasonLength {
		return apperrors.Validation("rewardType must be at most %d characters", maxReasonLength)
	}
	if len(req.RewardMetadata) > 0 && !json.Valid(req.RewardMetadata) {
		return apperrors.Validation("rewardMetadata must be valid JSON")
	}
	return nil
}

func jsonOrNil(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}
