// Package verification runs the unverified claim path: tokens, confirmation,
// finalization and release of expired reservations.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/fomo/internal/allocator"
	"github.com/kkkkikiki/fomo/internal/issuer"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/metrics"
	"github.com/kkkkikiki/fomo/internal/model"
	"github.com/kkkkikiki/fomo/internal/notify"
	"github.com/kkkkikiki/fomo/internal/repository"
)

const (
	tokenBytes    = 32
	waitlistBatch = 500
)

// Manager drives claims from reserved to finalized or released
type Manager struct {
	db           *sqlx.DB
	campaignRepo *repository.CampaignRepository
	claimRepo    *repository.ClaimRepository
	tokenRepo    *repository.TokenRepository
	waitlistRepo *repository.WaitlistRepository
	issuer       issuer.Issuer
	notifier     notify.Notifier
	now          func() time.Time
}

// NewManager creates a new verification manager
func NewManager(db *sqlx.DB, iss issuer.Issuer, notifier notify.Notifier) *Manager {
	return &Manager{
		db:           db,
		campaignRepo: repository.NewCampaignRepository(),
		claimRepo:    repository.NewClaimRepository(),
		tokenRepo:    repository.NewTokenRepository(),
		waitlistRepo: repository.NewWaitlistRepository(),
		issuer:       iss,
		notifier:     notifier,
		now:          time.Now,
	}
}

// WithClock replaces the time source
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// HashToken returns the stored form of a verification token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewToken mints a verification token and the hash the allocator stores
// with the reservation
func NewToken() (token, hash string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, HashToken(token), nil
}

// StartVerification mails the token of a committed reservation. The token
// was stored with the reservation and lives exactly as long as it; a failed
// email is logged and the claim is released by the sweep.
func (m *Manager) StartVerification(ctx context.Context, claim *model.Claim, campaign *model.Campaign, token string) {
	if err := m.notifier.SendVerification(ctx, claim.Email, token, campaign); err != nil {
		logger.Error("failed to send verification email",
			"claim_id", claim.ID.String(),
			"email", claim.Email,
			"error", err,
		)
	}
}

// Confirm consumes a token and finalizes its claim. A token that was
// already used returns the same claim again; finalization is retried when
// the first attempt did not reach the issuer.
func (m *Manager) Confirm(ctx context.Context, token string) (*model.Claim, error) {
	claim, campaign, fresh, err := m.confirm(ctx, token)
	if err != nil {
		metrics.RecordVerification(model.Reason(err))
		return nil, err
	}

	if !fresh {
		if claim.State == model.ClaimVerified {
			if err := m.Finalize(ctx, claim, campaign); err != nil {
				logger.Error("claim verified but not finalized", "claim_id", claim.ID.String(), "error", err)
			}
		}
		metrics.RecordVerification("replayed")
		return claim, nil
	}

	metrics.RecordVerification("verified")
	m.Deliver(ctx, claim, campaign)
	return claim, nil
}

// Deliver finalizes a verified claim and mails the code. Failures are
// logged; ReissuePending retries finalization.
func (m *Manager) Deliver(ctx context.Context, claim *model.Claim, campaign *model.Campaign) {
	if err := m.Finalize(ctx, claim, campaign); err != nil {
		logger.Error("claim verified but not finalized",
			"claim_id", claim.ID.String(),
			"error", err,
		)
	}
	if err := m.notifier.SendConfirmation(ctx, claim, campaign); err != nil {
		logger.Error("failed to send confirmation email",
			"claim_id", claim.ID.String(),
			"error", err,
		)
	}
}

func (m *Manager) confirm(ctx context.Context, token string) (*model.Claim, *model.Campaign, bool, error) {
	hash := HashToken(token)

	// Resolve the campaign without locks so the locked section can take the
	// campaign row first, like reservations and the sweep do.
	tok, err := m.tokenRepo.GetToken(ctx, m.db, hash)
	if err != nil {
		return nil, nil, false, transient(err)
	}
	claim, err := m.claimRepo.GetClaim(ctx, m.db, tok.ClaimID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, false, model.ErrTokenNotFound
		}
		return nil, nil, false, transient(err)
	}

	now := m.now()
	if !tok.Consumed() && lapsed(tok, claim, now) {
		return nil, nil, false, model.ErrTokenExpired
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, false, transient(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	campaign, err := m.campaignRepo.GetCampaignForUpdate(ctx, tx, claim.CampaignID)
	if err != nil {
		return nil, nil, false, transient(err)
	}
	tok, err = m.tokenRepo.GetTokenForUpdate(ctx, tx, hash)
	if err != nil {
		return nil, nil, false, transient(err)
	}
	claim, err = m.claimRepo.GetClaimForUpdate(ctx, tx, tok.ClaimID)
	if err != nil {
		return nil, nil, false, transient(err)
	}

	if tok.Consumed() {
		return claim, campaign, false, nil
	}
	if lapsed(tok, claim, now) {
		return nil, nil, false, model.ErrTokenExpired
	}

	expiresAt := now.Add(campaign.ExpiryDuration())
	if err := m.claimRepo.MarkClaimVerified(ctx, tx, claim.ID, expiresAt); err != nil {
		return nil, nil, false, transient(err)
	}
	if err := m.tokenRepo.ConsumeToken(ctx, tx, hash, now); err != nil {
		return nil, nil, false, transient(err)
	}
	if _, err := allocator.EndIfDrained(ctx, tx, campaign); err != nil {
		return nil, nil, false, transient(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, false, transient(fmt.Errorf("failed to commit transaction: %w", err))
	}

	claim.Verified = true
	claim.State = model.ClaimVerified
	claim.ExpiresAt = expiresAt

	logger.Info("claim verified",
		"campaign_id", campaign.ID,
		"claim_id", claim.ID.String(),
		"email", claim.Email,
	)
	return claim, campaign, true, nil
}

func lapsed(tok *model.VerificationToken, claim *model.Claim, now time.Time) bool {
	return claim.State == model.ClaimReleased || claim.Expired(now) || !now.Before(tok.ExpiresAt)
}

// Finalize materializes the coupon for a verified claim. On issuer failure
// the claim stays verified and ReissuePending picks it up later.
func (m *Manager) Finalize(ctx context.Context, claim *model.Claim, campaign *model.Campaign) error {
	couponID, err := m.issuer.Issue(ctx, issuer.Request{
		Code:          claim.IssuedCode,
		DiscountType:  campaign.DiscountType,
		DiscountValue: claim.DiscountValue,
		Email:         claim.Email,
		Scope:         campaign.Scope(),
		ExpiresAt:     claim.ExpiresAt,
	})
	if err != nil {
		metrics.RecordIssuer("failed")
		return fmt.Errorf("%w: %v", model.ErrIssuerFailure, err)
	}
	metrics.RecordIssuer("issued")

	at := m.now()
	if err := m.claimRepo.MarkClaimFinalized(ctx, m.db, claim.ID, couponID, at); err != nil {
		// another path finalized it first
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return transient(err)
	}

	claim.State = model.ClaimFinalized
	claim.CouponID = sql.NullString{String: couponID, Valid: true}
	claim.FinalizedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

// SweepExpired releases every expired unverified reservation and returns
// the slots to their campaigns. Campaigns are swept one transaction each.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	now := m.now()
	ids, err := m.claimRepo.CampaignsWithExpiredClaims(ctx, m.db, now)
	if err != nil {
		return 0, err
	}

	var (
		total int
		errs  []error
	)
	for _, id := range ids {
		released, campaign, reopened, err := m.sweepCampaign(ctx, id, now)
		if err != nil {
			logger.Error("failed to sweep campaign", "campaign_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		total += released
		if reopened {
			m.notifyWaitlist(ctx, campaign)
		}
	}

	metrics.RecordReleased(total)
	if total > 0 {
		logger.Info("expired claims released", "count", total, "campaigns", len(ids))
	}
	return total, errors.Join(errs...)
}

func (m *Manager) sweepCampaign(ctx context.Context, id int64, now time.Time) (int, *model.Campaign, bool, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	campaign, err := m.campaignRepo.GetCampaignForUpdate(ctx, tx, id)
	if err != nil {
		return 0, nil, false, err
	}

	released, err := m.claimRepo.ReleaseExpiredClaims(ctx, tx, id, now)
	if err != nil {
		return 0, nil, false, err
	}
	if released == 0 {
		return 0, campaign, false, nil
	}

	before := campaign.CodesRemaining
	remaining, err := m.campaignRepo.UpdateRemaining(ctx, tx, id, released, "")
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to return %d codes to campaign %d: %w", released, id, err)
	}
	campaign.CodesRemaining = remaining

	if err := tx.Commit(); err != nil {
		return 0, nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	reopened := before == 0 && remaining > 0 && campaign.Status == model.StatusActive
	return released, campaign, reopened, nil
}

func (m *Manager) notifyWaitlist(ctx context.Context, campaign *model.Campaign) {
	entries, err := m.waitlistRepo.PendingWaitlist(ctx, m.db, campaign.ID, waitlistBatch)
	if err != nil {
		logger.Error("failed to load waitlist", "campaign_id", campaign.ID, "error", err)
		return
	}
	m.sendWaitlistNotices(ctx, entries, campaign)
}

// AnnounceCampaign tells the global waitlist about a new campaign
func (m *Manager) AnnounceCampaign(ctx context.Context, campaign *model.Campaign) {
	entries, err := m.waitlistRepo.PendingGlobalWaitlist(ctx, m.db, waitlistBatch)
	if err != nil {
		logger.Error("failed to load global waitlist", "error", err)
		return
	}
	m.sendWaitlistNotices(ctx, entries, campaign)
}

func (m *Manager) sendWaitlistNotices(ctx context.Context, entries []model.WaitlistEntry, campaign *model.Campaign) {
	notified := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if err := m.notifier.SendWaitlistNotice(ctx, entry.Email, campaign); err != nil {
			logger.Warn("failed to send waitlist notice", "email", entry.Email, "error", err)
			continue
		}
		notified = append(notified, entry.ID)
	}

	if err := m.waitlistRepo.MarkNotified(ctx, m.db, notified); err != nil {
		logger.Error("failed to mark waitlist notified", "campaign_id", campaign.ID, "error", err)
	}
}

// ReissuePending retries finalization for verified claims whose coupon was
// never created and returns how many succeeded
func (m *Manager) ReissuePending(ctx context.Context, limit int) (int, error) {
	claims, err := m.claimRepo.ListUnfinalizedClaims(ctx, m.db, m.now(), limit)
	if err != nil {
		return 0, err
	}

	campaigns := make(map[int64]*model.Campaign)
	finalized := 0
	for i := range claims {
		claim := &claims[i]
		campaign, ok := campaigns[claim.CampaignID]
		if !ok {
			campaign, err = m.campaignRepo.GetCampaign(ctx, m.db, claim.CampaignID)
			if err != nil {
				return finalized, err
			}
			campaigns[claim.CampaignID] = campaign
		}

		if err := m.Finalize(ctx, claim, campaign); err != nil {
			logger.Warn("reissue failed", "claim_id", claim.ID.String(), "error", err)
			continue
		}
		finalized++
	}
	return finalized, nil
}

// CleanupTokens deletes tokens consumed or expired more than olderThan ago
func (m *Manager) CleanupTokens(ctx context.Context, olderThan time.Duration) (int, error) {
	return m.tokenRepo.DeleteStaleTokens(ctx, m.db, m.now().Add(-olderThan))
}

func transient(err error) error {
	if model.Reason(err) != "internal" {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrTransient, err)
}
