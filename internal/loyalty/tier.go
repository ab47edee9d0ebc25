package loyalty

import (
	"strings"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/models"
)

// Descending by minimum lifetime points earned.
var tierThresholds = []struct {
	tier models.LoyaltyTier
	min  int64
}{
	{models.LoyaltyTierPlatinum, 1000},
	{models.LoyaltyTierGold, 500},
	{models.LoyaltyTierSilver, 100},
	{models.LoyaltyTierBronze, 0},
}

// TierFor maps lifetime points earned to a tier. Redemptions never lower
// lifetime points, so a tier never regresses.
func TierFor(lifetimePoints int64) models.LoyaltyTier {
	for _, threshold := range tierThresholds {
		if lifetimePoints >= threshold.min {
			return threshold.tier
		}
	}
	return models.LoyaltyTierBronze
}

func ParseTier(s string) (models.LoyaltyTier, error) {
	tier := models.LoyaltyTier(strings.ToLower(strings.TrimSpace(s)))
	for _, threshold := range tierThresholds {
		if threshold.tier == tier {
			return tier, nil
		}
	}
	return "", apperrors.Validation("unknown loyalty tier %q", s)
}
