package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kkkkikiki/fomo/internal/model"
)

// WaitlistRepository handles waitlist data operations
type WaitlistRepository struct{}

// NewWaitlistRepository creates a new waitlist repository
func NewWaitlistRepository() *WaitlistRepository {
	return &WaitlistRepository{}
}

// JoinWaitlist adds an email to a campaign waitlist (or the global one)
func (r *WaitlistRepository) JoinWaitlist(ctx context.Context, db DBExecutor, entry *model.WaitlistEntry) error {
	query := `
		INSERT INTO waitlist (campaign_id, email, joined_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	entry.JoinedAt = time.Now()
	if err := db.GetContext(ctx, &entry.ID, query, entry.CampaignID, entry.Email, entry.JoinedAt); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.ErrAlreadyOnWaitlist
		}
		return fmt.Errorf("failed to join waitlist: %w", err)
	}
	return nil
}

// PendingWaitlist returns entries for a campaign that were not notified yet
func (r *WaitlistRepository) PendingWaitlist(ctx context.Context, db DBExecutor, campaignID int64, limit int) ([]model.WaitlistEntry, error) {
	query := `
		SELECT id, campaign_id, email, joined_at, notified
		FROM waitlist
		WHERE campaign_id = $1 AND NOT notified
		ORDER BY joined_at ASC
		LIMIT $2
	`

	var entries []model.WaitlistEntry
	if err := db.SelectContext(ctx, &entries, query, campaignID, limit); err != nil {
		return nil, fmt.Errorf("failed to list waitlist: %w", err)
	}
	return entries, nil
}

// PendingGlobalWaitlist returns global entries that were not notified yet
func (r *WaitlistRepository) PendingGlobalWaitlist(ctx context.Context, db DBExecutor, limit int) ([]model.WaitlistEntry, error) {
	query := `
		SELECT id, campaign_id, email, joined_at, notified
		FROM waitlist
		WHERE campaign_id IS NULL AND NOT notified
		ORDER BY joined_at ASC
		LIMIT $1
	`

	var entries []model.WaitlistEntry
	if err := db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list global waitlist: %w", err)
	}
	return entries, nil
}

// MarkNotified flags waitlist entries as notified
func (r *WaitlistRepository) MarkNotified(ctx context.Context, db DBExecutor, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE waitlist SET notified = TRUE WHERE id = ANY($1)`
	if _, err := db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark waitlist notified: %w", err)
	}
	return nil
}

// AuditRepository writes the audit log
type AuditRepository struct{}

// NewAuditRepository creates a new audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Record stores one audit entry. Old and new values are stored as JSON.
func (r *AuditRepository) Record(ctx context.Context, db DBExecutor, action, objectType string, objectID int64, oldValue, newValue interface{}) error {
	query := `
		INSERT INTO audit_log (action, object_type, object_id, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	oldJSON, err := marshalAuditValue(oldValue)
	if err != nil {
		return err
	}
	newJSON, err := marshalAuditValue(newValue)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, query, action, objectType, objectID, oldJSON, newJSON, time.Now()); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func marshalAuditValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit value: %w", err)
	}
	return string(b), nil
}
