// Package testutil holds sqlmock helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/fomo/internal/model"
)

// NewMockDB returns an sqlx handle backed by sqlmock. Expectations are
// checked when the test ends.
func NewMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})
	return sqlx.NewDb(db, "sqlmock"), mock
}

var campaignCols = []string{
	"id", "name", "discount_type", "discount_value", "tier_thresholds", "total_codes",
	"codes_remaining", "expiry_hours", "ip_limit_enabled", "max_claims_per_ip", "scope_type", "scope_ids",
	"status", "code_seq", "created_at", "updated_at",
}

// CampaignRows renders campaigns as result rows of a campaign SELECT
func CampaignRows(campaigns ...*model.Campaign) *sqlmock.Rows {
	rows := sqlmock.NewRows(campaignCols)
	for _, c := range campaigns {
		var tiers interface{}
		if v, _ := c.Tiers.Value(); v != nil {
			tiers = v
		}
		var scope interface{}
		if len(c.ScopeIDs) > 0 {
			scope, _ = c.ScopeIDs.Value()
		}
		rows.AddRow(c.ID, c.Name, string(c.DiscountType), c.DiscountValue.String(), tiers, c.TotalCodes,
			c.CodesRemaining, c.ExpiryHours, c.IPLimitEnabled, c.MaxClaimsPerIP, string(c.ScopeType), scope,
			string(c.Status), c.CodeSeq, c.CreatedAt, c.UpdatedAt)
	}
	return rows
}

var claimCols = []string{
	"id", "campaign_id", "email", "issued_code", "ip_address", "discount_value", "reserved_at",
	"expires_at", "verified", "state", "coupon_id", "finalized_at", "released_at",
}

// ClaimRows renders claims as result rows of a claim SELECT
func ClaimRows(claims ...*model.Claim) *sqlmock.Rows {
	rows := sqlmock.NewRows(claimCols)
	for _, c := range claims {
		var couponID, finalizedAt, releasedAt interface{}
		if c.CouponID.Valid {
			couponID = c.CouponID.String
		}
		if c.FinalizedAt.Valid {
			finalizedAt = c.FinalizedAt.Time
		}
		if c.ReleasedAt.Valid {
			releasedAt = c.ReleasedAt.Time
		}
		rows.AddRow(c.ID.String(), c.CampaignID, c.Email, c.IssuedCode, c.IPAddress, c.DiscountValue.String(),
			c.ReservedAt, c.ExpiresAt, c.Verified, string(c.State), couponID, finalizedAt, releasedAt)
	}
	return rows
}

// TokenRows renders a verification token as a result row
func TokenRows(tokens ...*model.VerificationToken) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"token_hash", "claim_id", "expires_at", "consumed_at", "created_at"})
	for _, tok := range tokens {
		var consumed interface{}
		if tok.ConsumedAt.Valid {
			consumed = tok.ConsumedAt.Time
		}
		rows.AddRow(tok.TokenHash, tok.ClaimID.String(), tok.ExpiresAt, consumed, tok.CreatedAt)
	}
	return rows
}

// UniqueViolation is the error PostgreSQL returns when constraint rejects a
// duplicate
func UniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}
