// Package tier computes the discount value a reservation receives.
package tier

import (
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/fomo/internal/model"
)

// Calculator resolves tiered discounts. It has no state.
type Calculator struct{}

// NewCalculator creates a new tier calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// DiscountFor returns the discount for the next reservation of campaign,
// given how many codes were claimed before it.
//
// Tier bounds are cumulative and exclusive: tiers {50, 30} cover claimed
// counts [0,50) and [50,80). A trailing tier with CodeCount 0 covers the
// rest. Past every bound, or when the tier data is malformed, the campaign's
// base discount applies.
func (c *Calculator) DiscountFor(campaign *model.Campaign, claimedSoFar int) decimal.Decimal {
	base := campaign.DiscountValue
	tiers := campaign.Tiers
	if len(tiers) == 0 || !wellFormed(tiers) {
		return base
	}
	if claimedSoFar < 0 {
		claimedSoFar = 0
	}

	bound := 0
	for _, t := range tiers {
		if t.CodeCount == 0 {
			return t.DiscountValue
		}
		bound += t.CodeCount
		if claimedSoFar < bound {
			return t.DiscountValue
		}
	}
	return base
}

func wellFormed(tiers model.Tiers) bool {
	for i, t := range tiers {
		if t.CodeCount < 0 || t.DiscountValue.IsNegative() {
			return false
		}
		if t.CodeCount == 0 && i != len(tiers)-1 {
			return false
		}
	}
	return true
}

// Validate reports whether tiers can be stored on a campaign
func Validate(tiers model.Tiers) bool {
	return len(tiers) == 0 || wellFormed(tiers)
}
