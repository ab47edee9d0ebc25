package models

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Order{},
		&Payment{},
		&IdempotencyKey{},
		&WebhookEvent{},
		&LoyaltyAccount{},
		&LoyaltyTransaction{},
		&LoyaltyRedemption{},
	)
}
