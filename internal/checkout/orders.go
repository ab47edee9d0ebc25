package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderDirectory looks up orders owned by the order service.
type OrderDirectory interface {
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type GormOrderDirectory struct {
	db *gorm.DB
}

func NewGormOrderDirectory(db *gorm.DB) *GormOrderDirectory {
	return &GormOrderDirectory{db: db}
}

func (d *GormOrderDirectory) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := d.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("order %s not found", orderID)
		}
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return &order, nil
}
