package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kkkkikiki/fomo/internal/model"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// ErrConflict is returned when a conditional update matched no rows
var ErrConflict = errors.New("conditional update matched no rows")

// ErrDuplicateCode is returned when a generated issued_code already exists
var ErrDuplicateCode = errors.New("issued code already exists")

const campaignColumns = `id, name, discount_type, discount_value, tier_thresholds, total_codes,
		codes_remaining, expiry_hours, ip_limit_enabled, max_claims_per_ip, scope_type, scope_ids,
		status, code_seq, created_at, updated_at`

// CampaignRepository handles campaign data operations
type CampaignRepository struct{}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{}
}

// CreateCampaign creates a new campaign with a full pool of codes
func (r *CampaignRepository) CreateCampaign(ctx context.Context, db DBExecutor, campaign *model.Campaign) error {
	query := `
		INSERT INTO campaigns (name, discount_type, discount_value, tier_thresholds, total_codes,
			codes_remaining, expiry_hours, ip_limit_enabled, max_claims_per_ip, scope_type, scope_ids,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	now := time.Now()
	campaign.CodesRemaining = campaign.TotalCodes
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	if campaign.Status == "" {
		campaign.Status = model.StatusActive
	}

	err := db.GetContext(ctx, &campaign.ID, query,
		campaign.Name, campaign.DiscountType, campaign.DiscountValue, campaign.Tiers, campaign.TotalCodes,
		campaign.CodesRemaining, campaign.ExpiryHours, campaign.IPLimitEnabled, campaign.MaxClaimsPerIP,
		campaign.ScopeType, campaign.ScopeIDs, campaign.Status, campaign.CreatedAt, campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetCampaign retrieves a campaign by ID
func (r *CampaignRepository) GetCampaign(ctx context.Context, db DBExecutor, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return r.getCampaign(ctx, db, query, id)
}

// GetCampaignForUpdate retrieves a campaign and locks its row until the
// surrounding transaction ends. Every change to codes_remaining goes through
// this lock.
func (r *CampaignRepository) GetCampaignForUpdate(ctx context.Context, db DBExecutor, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 FOR UPDATE`
	return r.getCampaign(ctx, db, query, id)
}

func (r *CampaignRepository) getCampaign(ctx context.Context, db DBExecutor, query string, id int64) (*model.Campaign, error) {
	var campaign model.Campaign
	err := db.GetContext(ctx, &campaign, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

// UpdateRemaining adds delta to codes_remaining and returns the new value.
// The update only applies while the result stays within [0, total_codes]
// and, when expected is non-empty, while the campaign has that status.
// ErrConflict is returned otherwise.
func (r *CampaignRepository) UpdateRemaining(ctx context.Context, db DBExecutor, id int64, delta int, expected model.CampaignStatus) (int32, error) {
	query := `
		UPDATE campaigns
		SET codes_remaining = codes_remaining + $2, updated_at = $3
		WHERE id = $1
			AND codes_remaining + $2 BETWEEN 0 AND total_codes
			AND ($4::text = '' OR status = $4::text)
		RETURNING codes_remaining
	`

	var remaining int32
	err := db.GetContext(ctx, &remaining, query, id, delta, time.Now(), string(expected))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("failed to update codes remaining: %w", err)
	}

	return remaining, nil
}

// NextCodeSeq increments and returns the campaign's code sequence
func (r *CampaignRepository) NextCodeSeq(ctx context.Context, db DBExecutor, id int64) (int64, error) {
	query := `UPDATE campaigns SET code_seq = code_seq + 1 WHERE id = $1 RETURNING code_seq`

	var seq int64
	if err := db.GetContext(ctx, &seq, query, id); err != nil {
		return 0, fmt.Errorf("failed to advance code sequence: %w", err)
	}
	return seq, nil
}

// SetStatus changes the campaign status
func (r *CampaignRepository) SetStatus(ctx context.Context, db DBExecutor, id int64, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $2, updated_at = $3 WHERE id = $1`

	result, err := db.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set campaign status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrCampaignNotFound
	}

	return nil
}

// uniqueViolation reports the violated constraint name for a PostgreSQL
// unique_violation error
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}
