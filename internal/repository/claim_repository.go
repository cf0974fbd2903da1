package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/fomo/internal/model"
)

const claimColumns = `id, campaign_id, email, issued_code, ip_address, discount_value, reserved_at,
		expires_at, verified, state, coupon_id, finalized_at, released_at`

// ClaimRepository handles claim data operations. It is the only writer of
// the claims table.
type ClaimRepository struct{}

// NewClaimRepository creates a new claim repository
func NewClaimRepository() *ClaimRepository {
	return &ClaimRepository{}
}

// InsertClaim stores a new claim. An issued code that already exists is
// reported as ErrDuplicateCode without aborting the caller's transaction.
func (r *ClaimRepository) InsertClaim(ctx context.Context, db DBExecutor, claim *model.Claim) error {
	query := `
		INSERT INTO claims (id, campaign_id, email, issued_code, ip_address, discount_value,
			reserved_at, expires_at, verified, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (issued_code) DO NOTHING
	`

	result, err := db.ExecContext(ctx, query,
		claim.ID, claim.CampaignID, claim.Email, claim.IssuedCode, claim.IPAddress, claim.DiscountValue,
		claim.ReservedAt, claim.ExpiresAt, claim.Verified, claim.State)
	if err != nil {
		return mapClaimWriteError("failed to insert claim", err)
	}

	if err := expectOneRow(result); err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("failed to insert claim %s: %w", claim.IssuedCode, ErrDuplicateCode)
		}
		return err
	}
	return nil
}

// GetClaim retrieves a claim by ID
func (r *ClaimRepository) GetClaim(ctx context.Context, db DBExecutor, id uuid.UUID) (*model.Claim, error) {
	return r.getClaim(ctx, db, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
}

// GetClaimForUpdate retrieves a claim and locks its row
func (r *ClaimRepository) GetClaimForUpdate(ctx context.Context, db DBExecutor, id uuid.UUID) (*model.Claim, error) {
	return r.getClaim(ctx, db, `SELECT `+claimColumns+` FROM claims WHERE id = $1 FOR UPDATE`, id)
}

func (r *ClaimRepository) getClaim(ctx context.Context, db DBExecutor, query string, id uuid.UUID) (*model.Claim, error) {
	var claim model.Claim
	if err := db.GetContext(ctx, &claim, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("claim %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return &claim, nil
}

// HasVerifiedClaim reports whether the identity already holds a verified claim
func (r *ClaimRepository) HasVerifiedClaim(ctx context.Context, db DBExecutor, campaignID int64, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM claims WHERE campaign_id = $1 AND email = $2 AND verified)`

	var exists bool
	if err := db.GetContext(ctx, &exists, query, campaignID, email); err != nil {
		return false, fmt.Errorf("failed to check verified claim: %w", err)
	}
	return exists, nil
}

// HasPendingClaim reports whether the identity holds an unverified
// reservation that has not yet expired
func (r *ClaimRepository) HasPendingClaim(ctx context.Context, db DBExecutor, campaignID int64, email string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM claims
			WHERE campaign_id = $1 AND email = $2 AND state = 'reserved' AND expires_at > $3
		)
	`

	var exists bool
	if err := db.GetContext(ctx, &exists, query, campaignID, email, now); err != nil {
		return false, fmt.Errorf("failed to check pending claim: %w", err)
	}
	return exists, nil
}

// CountVerifiedClaimsByIP counts verified claims made from ip
func (r *ClaimRepository) CountVerifiedClaimsByIP(ctx context.Context, db DBExecutor, campaignID int64, ip string) (int, error) {
	query := `SELECT COUNT(*) FROM claims WHERE campaign_id = $1 AND ip_address = $2 AND verified`

	var count int
	if err := db.GetContext(ctx, &count, query, campaignID, ip); err != nil {
		return 0, fmt.Errorf("failed to count claims by ip: %w", err)
	}
	return count, nil
}

// CountPendingClaims counts unverified reservations still holding a slot,
// including expired ones the sweep has not released yet
func (r *ClaimRepository) CountPendingClaims(ctx context.Context, db DBExecutor, campaignID int64) (int, error) {
	query := `SELECT COUNT(*) FROM claims WHERE campaign_id = $1 AND state = 'reserved'`

	var count int
	if err := db.GetContext(ctx, &count, query, campaignID); err != nil {
		return 0, fmt.Errorf("failed to count pending claims: %w", err)
	}
	return count, nil
}

// MarkClaimVerified moves a reserved claim to verified and sets the coupon
// validity deadline
func (r *ClaimRepository) MarkClaimVerified(ctx context.Context, db DBExecutor, id uuid.UUID, expiresAt time.Time) error {
	query := `
		UPDATE claims
		SET verified = TRUE, state = 'verified', expires_at = $2
		WHERE id = $1 AND state = 'reserved'
	`

	result, err := db.ExecContext(ctx, query, id, expiresAt)
	if err != nil {
		return mapClaimWriteError("failed to mark claim as verified", err)
	}
	return expectOneRow(result)
}

// MarkClaimFinalized records the issuer's coupon reference on a verified claim
func (r *ClaimRepository) MarkClaimFinalized(ctx context.Context, db DBExecutor, id uuid.UUID, couponID string, at time.Time) error {
	query := `
		UPDATE claims
		SET state = 'finalized', coupon_id = $2, finalized_at = $3
		WHERE id = $1 AND state = 'verified'
	`

	result, err := db.ExecContext(ctx, query, id, couponID, at)
	if err != nil {
		return fmt.Errorf("failed to mark claim as finalized: %w", err)
	}
	return expectOneRow(result)
}

// ReleaseExpiredClaims marks every expired reservation of a campaign as
// released and returns how many were released
func (r *ClaimRepository) ReleaseExpiredClaims(ctx context.Context, db DBExecutor, campaignID int64, now time.Time) (int, error) {
	query := `
		UPDATE claims
		SET state = 'released', released_at = $2
		WHERE campaign_id = $1 AND state = 'reserved' AND expires_at <= $2
	`

	result, err := db.ExecContext(ctx, query, campaignID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired claims: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// CampaignsWithExpiredClaims lists campaigns holding expired reservations
func (r *ClaimRepository) CampaignsWithExpiredClaims(ctx context.Context, db DBExecutor, now time.Time) ([]int64, error) {
	query := `
		SELECT DISTINCT campaign_id
		FROM claims
		WHERE state = 'reserved' AND expires_at <= $1
		ORDER BY campaign_id
	`

	var ids []int64
	if err := db.SelectContext(ctx, &ids, query, now); err != nil {
		return nil, fmt.Errorf("failed to list campaigns with expired claims: %w", err)
	}
	return ids, nil
}

// ListUnfinalizedClaims returns verified claims whose coupon was never
// materialized and is still within its validity window
func (r *ClaimRepository) ListUnfinalizedClaims(ctx context.Context, db DBExecutor, now time.Time, limit int) ([]model.Claim, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM claims
		WHERE state = 'verified' AND expires_at > $1
		ORDER BY reserved_at ASC
		LIMIT $2
	`

	var claims []model.Claim
	if err := db.SelectContext(ctx, &claims, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list unfinalized claims: %w", err)
	}
	return claims, nil
}

func mapClaimWriteError(msg string, err error) error {
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case "claims_verified_identity_key":
			return fmt.Errorf("%s: %w", msg, model.ErrAlreadyClaimed)
		case "claims_issued_code_key":
			return fmt.Errorf("%s: %w", msg, ErrDuplicateCode)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
