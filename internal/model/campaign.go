package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// DiscountType is how a campaign's discount value is applied at checkout
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// CampaignStatus is the administrative state of a campaign
type CampaignStatus string

const (
	StatusActive CampaignStatus = "active"
	StatusPaused CampaignStatus = "paused"
	StatusEnded  CampaignStatus = "ended"
)

// Valid reports whether s is a known campaign status
func (s CampaignStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusEnded:
		return true
	}
	return false
}

// ScopeType restricts which products an issued coupon applies to
type ScopeType string

const (
	ScopeAll        ScopeType = "all"
	ScopeProducts   ScopeType = "products"
	ScopeCategories ScopeType = "categories"
)

// Tier is one discount level. CodeCount is the number of codes the tier
// covers; zero marks the trailing catch-all tier.
type Tier struct {
	CodeCount     int             `json:"code_count"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

// Tiers is stored as a JSONB column
type Tiers []Tier

// Value implements driver.Valuer
func (t Tiers) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]Tier(t))
	if err != nil {
		return nil, fmt.Errorf("failed to encode tiers: %w", err)
	}
	// lib/pq sends []byte as bytea
	return string(b), nil
}

// Scan implements sql.Scanner
func (t *Tiers) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported tiers column type %T", src)
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	var tiers []Tier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return fmt.Errorf("failed to decode tiers: %w", err)
	}
	*t = tiers
	return nil
}

// Campaign represents a discount campaign in the database
type Campaign struct {
	ID             int64           `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	DiscountType   DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue  decimal.Decimal `db:"discount_value" json:"discount_value"`
	Tiers          Tiers           `db:"tier_thresholds" json:"tier_thresholds,omitempty"`
	TotalCodes     int32           `db:"total_codes" json:"total_codes"`
	CodesRemaining int32           `db:"codes_remaining" json:"codes_remaining"`
	ExpiryHours    int32           `db:"expiry_hours" json:"expiry_hours"`
	IPLimitEnabled bool            `db:"ip_limit_enabled" json:"ip_limit_enabled"`
	MaxClaimsPerIP int32           `db:"max_claims_per_ip" json:"max_claims_per_ip"`
	ScopeType      ScopeType       `db:"scope_type" json:"scope_type"`
	ScopeIDs       pq.Int64Array   `db:"scope_ids" json:"scope_ids,omitempty"`
	Status         CampaignStatus  `db:"status" json:"status"`
	CodeSeq        int64           `db:"code_seq" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// ClaimedSoFar is the number of codes handed out before the next reservation
func (c *Campaign) ClaimedSoFar() int {
	return int(c.TotalCodes - c.CodesRemaining)
}

// ExpiryDuration is how long an issued coupon stays redeemable
func (c *Campaign) ExpiryDuration() time.Duration {
	return time.Duration(c.ExpiryHours) * time.Hour
}

// Scope returns the coupon restriction for this campaign
func (c *Campaign) Scope() Scope {
	return Scope{Type: c.ScopeType, IDs: []int64(c.ScopeIDs)}
}

// Scope is the product restriction passed to the coupon issuer
type Scope struct {
	Type ScopeType `json:"type"`
	IDs  []int64   `json:"ids,omitempty"`
}

// WaitlistEntry is an email waiting for codes to become available.
// A nil CampaignID means the global waitlist.
type WaitlistEntry struct {
	ID         int64     `db:"id" json:"id"`
	CampaignID *int64    `db:"campaign_id" json:"campaign_id,omitempty"`
	Email      string    `db:"email" json:"email"`
	JoinedAt   time.Time `db:"joined_at" json:"joined_at"`
	Notified   bool      `db:"notified" json:"notified"`
}
