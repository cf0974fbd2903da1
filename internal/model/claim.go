package model

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimState is the position of a claim in its lifecycle.
//
//	reserved -> verified -> finalized
//	reserved -> released
//
// Trusted identities are inserted as verified and move straight to finalized.
type ClaimState string

const (
	ClaimReserved  ClaimState = "reserved"
	ClaimVerified  ClaimState = "verified"
	ClaimFinalized ClaimState = "finalized"
	ClaimReleased  ClaimState = "released"
)

// Claim is one identity's reservation of a single code from a campaign
type Claim struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	CampaignID    int64           `db:"campaign_id" json:"campaign_id"`
	Email         string          `db:"email" json:"email"`
	IssuedCode    string          `db:"issued_code" json:"issued_code"`
	IPAddress     string          `db:"ip_address" json:"ip_address"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	ReservedAt    time.Time       `db:"reserved_at" json:"reserved_at"`
	ExpiresAt     time.Time       `db:"expires_at" json:"expires_at"`
	Verified      bool            `db:"verified" json:"verified"`
	State         ClaimState      `db:"state" json:"state"`
	CouponID      sql.NullString  `db:"coupon_id" json:"-"`
	FinalizedAt   sql.NullTime    `db:"finalized_at" json:"-"`
	ReleasedAt    sql.NullTime    `db:"released_at" json:"-"`
}

// Finalized reports whether the coupon has been materialized
func (c *Claim) Finalized() bool {
	return c.State == ClaimFinalized
}

// Expired reports whether an unverified reservation is past its deadline
func (c *Claim) Expired(now time.Time) bool {
	return c.State == ClaimReserved && !now.Before(c.ExpiresAt)
}

// VerificationToken binds a single-use token to an unverified claim.
// Only the SHA-256 hash of the token is persisted.
type VerificationToken struct {
	TokenHash  string       `db:"token_hash"`
	ClaimID    uuid.UUID    `db:"claim_id"`
	ExpiresAt  time.Time    `db:"expires_at"`
	ConsumedAt sql.NullTime `db:"consumed_at"`
	CreatedAt  time.Time    `db:"created_at"`
}

// Consumed reports whether the token was already used
func (t *VerificationToken) Consumed() bool {
	return t.ConsumedAt.Valid
}
