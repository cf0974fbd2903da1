package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiers_ValueScan(t *testing.T) {
	tiers := Tiers{
		{CodeCount: 10, DiscountValue: decimal.NewFromInt(30)},
		{CodeCount: 0, DiscountValue: decimal.RequireFromString("12.5")},
	}

	v, err := tiers.Value()
	require.NoError(t, err)
	s, ok := v.(string)
	require.True(t, ok, "tiers are sent as text so the driver does not treat them as bytea")

	var fromText, fromBytes Tiers
	require.NoError(t, fromText.Scan(s))
	require.NoError(t, fromBytes.Scan([]byte(s)))
	assert.Len(t, fromText, 2)
	assert.Equal(t, 10, fromBytes[0].CodeCount)
	assert.True(t, decimal.RequireFromString("12.5").Equal(fromText[1].DiscountValue))
}

func TestTiers_Empty(t *testing.T) {
	v, err := Tiers(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	tiers := Tiers{{CodeCount: 1}}
	require.NoError(t, tiers.Scan(nil))
	assert.Nil(t, tiers)

	require.NoError(t, tiers.Scan([]byte{}))
	assert.Nil(t, tiers)

	assert.Error(t, tiers.Scan(42))
	assert.Error(t, tiers.Scan("{not json"))
}

func TestReasonAndCause(t *testing.T) {
	wrapped := fmt.Errorf("reserve: %w", ErrSoldOut)
	assert.Equal(t, "sold_out", Reason(wrapped))
	assert.Equal(t, ErrSoldOut, Cause(wrapped))

	joined := errors.Join(ErrTransient, errors.New("pq: deadlock detected"))
	assert.Equal(t, "transient_error", Reason(joined))

	other := errors.New("boom")
	assert.Equal(t, "internal", Reason(other))
	assert.Nil(t, Cause(other))
	assert.Nil(t, Cause(nil))
}

func TestCampaignHelpers(t *testing.T) {
	c := &Campaign{TotalCodes: 100, CodesRemaining: 40, ExpiryHours: 48, ScopeType: ScopeProducts, ScopeIDs: []int64{3, 4}}

	assert.Equal(t, 60, c.ClaimedSoFar())
	assert.Equal(t, 48*time.Hour, c.ExpiryDuration())
	assert.Equal(t, Scope{Type: ScopeProducts, IDs: []int64{3, 4}}, c.Scope())

	assert.True(t, StatusPaused.Valid())
	assert.False(t, CampaignStatus("archived").Valid())
}

func TestClaim_Expired(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := &Claim{State: ClaimReserved, ExpiresAt: now}

	assert.True(t, c.Expired(now), "deadline is exclusive")
	assert.False(t, c.Expired(now.Add(-time.Second)))

	c.State = ClaimVerified
	assert.False(t, c.Expired(now.Add(time.Hour)))
	assert.False(t, c.Finalized())
}
