// Package idempotency reserves client-supplied idempotency keys.
//
// A reservation is an insert-if-absent against the unique index on
// (key, generation), executed inside the caller's transaction. No lock is taken: the
// store decides the single winner among concurrent duplicates.
package idempotency

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxKeyLength = 255

type Outcome int

const (
	Reserved Outcome = iota + 1
	AlreadyReserved
)

func (o Outcome) String() string {
	switch o {
	case Reserved:
		return "reserved"
	case AlreadyReserved:
		return "already_reserved"
	default:
		return "unknown"
	}
}

type Guard struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewGuard returns a guard whose reservations expire after ttl. A zero ttl
// makes reservations permanent.
func NewGuard(ttl time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Reserve claims key for scope. AlreadyReserved means another request owns
// the key and the caller must not perform its side effect.
//
// Expired keys do not conflict: the claim appends the next generation of the
// key and leaves the expired row untouched. Two requests racing for the same
// generation meet on the unique index and exactly one of them wins.
func (g *Guard) Reserve(tx *gorm.DB, key, scope string, userID *uuid.UUID) (Outcome, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, apperrors.Validation("idempotency key is required")
	}
	if len(key) > maxKeyLength {
		return 0, apperrors.Validation("idempotency key must be at most %d characters", maxKeyLength)
	}

	now := g.now().UTC()
	generation := 1

	latest, err := g.Lookup(tx, key)
	switch {
	case err == nil:
		if !latest.Expired(now) {
			g.logger.Info("idempotency key already reserved", "key", key, "scope", scope, "reserved_scope", latest.Scope)
			return AlreadyReserved, nil
		}
		generation = latest.Generation + 1
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, fmt.Errorf("load idempotency key: %w", err)
	}

	record := models.IdempotencyKey{
		Key:        key,
		Generation: generation,
		Scope:      scope,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  g.expiry(now),
	}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}, {Name: "generation"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil {
		return 0, fmt.Errorf("insert idempotency key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		g.logger.Info("idempotency key reserved concurrently", "key", key, "scope", scope, "generation", generation)
		return AlreadyReserved, nil
	}

	if generation > 1 {
		g.logger.Info("reclaimed expired idempotency key", "key", key, "scope", scope, "generation", generation)
	}
	return Reserved, nil
}

// Lookup returns the newest generation stored for key, or
// gorm.ErrRecordNotFound.
func (g *Guard) Lookup(db *gorm.DB, key string) (*models.IdempotencyKey, error) {
	var record models.IdempotencyKey
	err := db.Where("idempotency_key = ?", strings.TrimSpace(key)).
		Order("generation DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// History returns every generation of key, oldest first.
func (g *Guard) History(db *gorm.DB, key string) ([]models.IdempotencyKey, error) {
	var records []models.IdempotencyKey
	err := db.Where("idempotency_key = ?", strings.TrimSpace(key)).
		Order("generation ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load idempotency key history: %w", err)
	}
	return records, nil
}

func (g *Guard) expiry(now time.Time) *time.Time {
	if g.ttl <= 0 {
		return nil
	}
	expiresAt := now.Add(g.ttl)
	return &expiresAt
}
