package loyalty

import (
	"errors"
	"fmt"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountDetails struct {
	Account            *models.LoyaltyAccount      `json:"account"`
	TotalEarned        int64                       `json:"totalEarned"`
	TotalRedeemed      int64                       `json:"totalRedeemed"`
	RecentTransactions []models.LoyaltyTransaction `json:"recentTransactions"`
	RecentRedemptions  []models.LoyaltyRedemption  `json:"recentRedemptions"`
}

type AccountFilter struct {
	ActiveOnly bool
	Tier       models.LoyaltyTier
	// UserID limits the listing to one user's account when set.
	UserID *uuid.UUID
}

// CreateAccount opens an account for userID. Opening an account that
// already exists returns the existing one with created set to false.
func (l *Ledger) CreateAccount(db *gorm.DB, userID uuid.UUID) (*models.LoyaltyAccount, bool, error) {
	if userID == uuid.Nil {
		return nil, false, apperrors.Validation("userId is required")
	}
	created, err := l.insertAccount(db, userID)
	if err != nil {
		return nil, false, err
	}
	account, err := l.GetAccountByUser(db, userID)
	if err != nil {
		return nil, false, err
	}
	return account, created, nil
}

func (l *Ledger) GetAccount(db *gorm.DB, id uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	if err := db.First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("loyalty account %s not found", id)
		}
		return nil, fmt.Errorf("get loyalty account %s: %w", id, err)
	}
	return &account, nil
}

func (l *Ledger) GetAccountByUser(db *gorm.DB, userID uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	if err := db.First(&account, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("loyalty account for user %s not found", userID)
		}
		return nil, fmt.Errorf("get loyalty account for user %s: %w", userID, err)
	}
	return &account, nil
}

func (l *Ledger) Balance(db *gorm.DB, userID uuid.UUID) (int64, error) {
	account, err := l.GetAccountByUser(db, userID)
	if err != nil {
		return 0, err
	}
	return account.PointsBalance, nil
}

func (l *Ledger) Details(db *gorm.DB, userID uuid.UUID) (*AccountDetails, error) {
	account, err := l.GetAccountByUser(db, userID)
	if err != nil {
		return nil, err
	}

	details := &AccountDetails{
		Account:            account,
		TotalEarned:        account.LifetimePoints,
		RecentTransactions: []models.LoyaltyTransaction{},
		RecentRedemptions:  []models.LoyaltyRedemption{},
	}
	if err := db.Where("loyalty_account_id = ?", account.ID).
		Order("created_at DESC").Limit(recentLimit).
		Find(&details.RecentTransactions).Error; err != nil {
		return nil, fmt.Errorf("list loyalty transactions: %w", err)
	}
	if err := db.Where("loyalty_account_id = ?", account.ID).
		Order("created_at DESC").Limit(recentLimit).
		Find(&details.RecentRedemptions).Error; err != nil {
		return nil, fmt.Errorf("list loyalty redemptions: %w", err)
	}
	if err := db.Model(&models.LoyaltyRedemption{}).
		Where("loyalty_account_id = ?", account.ID).
		Select("COALESCE(SUM(points_used), 0)").
		Scan(&details.TotalRedeemed).Error; err != nil {
		return nil, fmt.Errorf("sum loyalty redemptions: %w", err)
	}
	return details, nil
}

func (l *Ledger) ListAccounts(db *gorm.DB, filter AccountFilter) ([]models.LoyaltyAccount, error) {
	query := db.Model(&models.LoyaltyAccount{})
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.Tier != "" {
		query = query.Where("tier = ?", filter.Tier)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}

	accounts := []models.LoyaltyAccount{}
	if err := query.Order("created_at DESC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list loyalty accounts: %w", err)
	}
	return accounts, nil
}

// SetActive toggles whether the account accepts awards and redemptions.
// Accounts are never deleted.
func (l *Ledger) SetActive(db *gorm.DB, id uuid.UUID, active bool) (*models.LoyaltyAccount, error) {
	result := db.Model(&models.LoyaltyAccount{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":  active,
		"updated_at": l.now().UTC(),
	})
	if result.Error != nil {
		return nil, fmt.Errorf("update loyalty account %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NotFound("loyalty account %s not found", id)
	}
	l.logger.Info("loyalty account status changed", "account_id", id, "active", active)
	return l.GetAccount(db, id)
}

// CheckBalance recomputes both folds from the transaction log and reports
// any drift from the cached values on the account.
func (l *Ledger) CheckBalance(db *gorm.DB, accountID uuid.UUID) error {
	account, err := l.GetAccount(db, accountID)
	if err != nil {
		return err
	}

	var sums struct {
		Balance  int64
		Lifetime int64
	}
	if err := db.Model(&models.LoyaltyTransaction{}).
		Where("loyalty_account_id = ?", accountID).
		Select("COALESCE(SUM(change_amount), 0) AS balance, COALESCE(SUM(CASE WHEN change_amount > 0 THEN change_amount ELSE 0 END), 0) AS lifetime").
		Scan(&sums).Error; err != nil {
		return fmt.Errorf("sum loyalty transactions: %w", err)
	}

	if sums.Balance != account.PointsBalance || sums.Lifetime != account.LifetimePoints {
		return fmt.Errorf("loyalty account %s drifted: balance %d vs log %d, lifetime %d vs log %d",
			accountID, account.PointsBalance, sums.Balance, account.LifetimePoints, sums.Lifetime)
	}
	return nil
}
