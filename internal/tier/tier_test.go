package tier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kkkkikiki/fomo/internal/model"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDiscountFor_Boundaries(t *testing.T) {
	campaign := &model.Campaign{
		DiscountValue: d(5),
		TotalCodes:    100,
		Tiers: model.Tiers{
			{CodeCount: 50, DiscountValue: d(25)},
			{CodeCount: 30, DiscountValue: d(15)},
			{CodeCount: 0, DiscountValue: d(10)},
		},
	}
	calc := NewCalculator()

	tests := []struct {
		claimed int
		want    int64
	}{
		{0, 25},
		{49, 25},
		{50, 15},
		{79, 15},
		{80, 10},
		{99, 10},
	}
	for _, tt := range tests {
		got := calc.DiscountFor(campaign, tt.claimed)
		assert.Truef(t, d(tt.want).Equal(got), "claimed %d: got %s, want %d", tt.claimed, got, tt.want)
	}
}

func TestDiscountFor_Fallbacks(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name    string
		tiers   model.Tiers
		claimed int
		want    int64
	}{
		{
			name:    "no tiers",
			claimed: 10,
			want:    5,
		},
		{
			name:    "past every bound without catch-all",
			tiers:   model.Tiers{{CodeCount: 10, DiscountValue: d(20)}},
			claimed: 10,
			want:    5,
		},
		{
			name:    "negative count",
			tiers:   model.Tiers{{CodeCount: -1, DiscountValue: d(20)}},
			claimed: 0,
			want:    5,
		},
		{
			name:    "catch-all not last",
			tiers:   model.Tiers{{CodeCount: 0, DiscountValue: d(20)}, {CodeCount: 10, DiscountValue: d(30)}},
			claimed: 0,
			want:    5,
		},
		{
			name:    "negative discount",
			tiers:   model.Tiers{{CodeCount: 10, DiscountValue: d(-3)}},
			claimed: 0,
			want:    5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			campaign := &model.Campaign{DiscountValue: d(5), Tiers: tt.tiers}
			got := calc.DiscountFor(campaign, tt.claimed)
			assert.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(nil))
	assert.True(t, Validate(model.Tiers{{CodeCount: 5, DiscountValue: d(1)}, {CodeCount: 0, DiscountValue: d(1)}}))
	assert.False(t, Validate(model.Tiers{{CodeCount: 0, DiscountValue: d(1)}, {CodeCount: 5, DiscountValue: d(1)}}))
}
