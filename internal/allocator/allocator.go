// Package allocator reserves codes from a campaign's pool.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/fomo/internal/codegen"
	"github.com/kkkkikiki/fomo/internal/eligibility"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/metrics"
	"github.com/kkkkikiki/fomo/internal/model"
	"github.com/kkkkikiki/fomo/internal/repository"
	"github.com/kkkkikiki/fomo/internal/tier"
)

// maxCodeAttempts bounds how many sequence numbers one reservation may burn
// on issued codes that already exist
const maxCodeAttempts = 5

// ErrTokenRequired is returned for an unverified reservation without a token
var ErrTokenRequired = errors.New("verification token hash is required")

// Request asks for one code. Trusted identities skip email verification;
// everyone else brings the hash of the token mailed to them, stored in the
// same transaction as the reservation.
type Request struct {
	CampaignID int64
	Identity   eligibility.Identity
	Trusted    bool
	TokenHash  string
}

// Reservation is a committed claim and the campaign state right after it
type Reservation struct {
	Claim    *model.Claim
	Campaign *model.Campaign
}

// Allocator serializes reservations per campaign with a row lock
type Allocator struct {
	db              *sqlx.DB
	campaignRepo    *repository.CampaignRepository
	claimRepo       *repository.ClaimRepository
	tokenRepo       *repository.TokenRepository
	checker         *eligibility.Checker
	tiers           *tier.Calculator
	codes           *codegen.Generator
	verificationTTL time.Duration
	now             func() time.Time
}

// NewAllocator creates a new Allocator instance
func NewAllocator(db *sqlx.DB, checker *eligibility.Checker, codes *codegen.Generator, verificationTTL time.Duration) *Allocator {
	return &Allocator{
		db:              db,
		campaignRepo:    repository.NewCampaignRepository(),
		claimRepo:       repository.NewClaimRepository(),
		tokenRepo:       repository.NewTokenRepository(),
		checker:         checker,
		tiers:           tier.NewCalculator(),
		codes:           codes,
		verificationTTL: verificationTTL,
		now:             time.Now,
	}
}

// WithClock replaces the time source
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// Reserve binds one code slot to the requesting identity.
//
// A lock-free pre-check rejects obvious failures first. The authoritative
// checks then run again under the campaign row lock, where the decrement,
// the claim insert and the verification token commit together or not at all.
func (a *Allocator) Reserve(ctx context.Context, req Request) (*Reservation, error) {
	res, err := a.reserve(ctx, req)
	if err != nil {
		metrics.RecordReservation(model.Reason(err))
		return nil, err
	}
	metrics.RecordReservation("reserved")
	return res, nil
}

func (a *Allocator) reserve(ctx context.Context, req Request) (*Reservation, error) {
	if !req.Trusted && req.TokenHash == "" {
		return nil, ErrTokenRequired
	}

	campaign, err := a.campaignRepo.GetCampaign(ctx, a.db, req.CampaignID)
	if err != nil {
		return nil, transient(err)
	}
	if err := admissible(campaign); err != nil {
		return nil, err
	}
	identity, err := a.checker.Check(ctx, a.db, campaign, req.Identity.Email, req.Identity.IP)
	if err != nil {
		return nil, transient(err)
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, transient(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	campaign, err = a.campaignRepo.GetCampaignForUpdate(ctx, tx, req.CampaignID)
	if err != nil {
		return nil, transient(err)
	}
	if err := admissible(campaign); err != nil {
		return nil, err
	}
	if err := a.checker.Evaluate(ctx, tx, campaign, identity); err != nil {
		return nil, transient(err)
	}

	discount := a.tiers.DiscountFor(campaign, campaign.ClaimedSoFar())

	remaining, err := a.campaignRepo.UpdateRemaining(ctx, tx, campaign.ID, -1, model.StatusActive)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, model.ErrSoldOut
		}
		return nil, transient(err)
	}
	campaign.CodesRemaining = remaining

	now := a.now()
	claim := &model.Claim{
		ID:            uuid.New(),
		CampaignID:    campaign.ID,
		Email:         identity.Email,
		IPAddress:     identity.IP,
		DiscountValue: discount,
		ReservedAt:    now,
		ExpiresAt:     now.Add(a.verificationTTL),
		State:         model.ClaimReserved,
	}
	if req.Trusted {
		claim.Verified = true
		claim.State = model.ClaimVerified
		claim.ExpiresAt = now.Add(campaign.ExpiryDuration())
	}

	if err := a.insertClaim(ctx, tx, claim); err != nil {
		return nil, transient(err)
	}

	if !req.Trusted {
		err := a.tokenRepo.InsertToken(ctx, tx, &model.VerificationToken{
			TokenHash: req.TokenHash,
			ClaimID:   claim.ID,
			ExpiresAt: claim.ExpiresAt,
			CreatedAt: now,
		})
		if err != nil {
			return nil, transient(err)
		}
	}

	if _, err := EndIfDrained(ctx, tx, campaign); err != nil {
		return nil, transient(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, transient(fmt.Errorf("failed to commit transaction: %w", err))
	}

	logger.Info("code reserved",
		"campaign_id", campaign.ID,
		"claim_id", claim.ID.String(),
		"email", claim.Email,
		"trusted", req.Trusted,
		"codes_remaining", campaign.CodesRemaining,
	)

	return &Reservation{Claim: claim, Campaign: campaign}, nil
}

// insertClaim stores the claim under the next code of the campaign. A code
// already issued elsewhere is skipped: the sequence has advanced inside this
// transaction, so the next attempt derives a different code.
func (a *Allocator) insertClaim(ctx context.Context, tx *sqlx.Tx, claim *model.Claim) error {
	for attempt := 1; ; attempt++ {
		seq, err := a.campaignRepo.NextCodeSeq(ctx, tx, claim.CampaignID)
		if err != nil {
			return err
		}
		claim.IssuedCode, err = a.codes.Generate(claim.CampaignID, seq)
		if err != nil {
			return err
		}

		err = a.claimRepo.InsertClaim(ctx, tx, claim)
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return err
		}
		metrics.RecordCodeCollision()
		logger.Warn("issued code collision",
			"campaign_id", claim.CampaignID,
			"code_seq", seq,
			"attempt", attempt,
		)
		if attempt == maxCodeAttempts {
			return fmt.Errorf("no free issued code after %d attempts: %w", attempt, err)
		}
	}
}

// admissible checks sold-out first: a campaign ended by its last
// reservation still answers SoldOut.
func admissible(campaign *model.Campaign) error {
	if campaign.CodesRemaining <= 0 {
		return model.ErrSoldOut
	}
	if campaign.Status != model.StatusActive {
		return model.ErrCampaignInactive
	}
	return nil
}

// EndIfDrained flips an active campaign to ended once no codes remain and no
// unverified reservation could still return a slot. It must run inside the
// transaction holding the campaign row lock.
func EndIfDrained(ctx context.Context, db repository.DBExecutor, campaign *model.Campaign) (bool, error) {
	if campaign.CodesRemaining > 0 || campaign.Status != model.StatusActive {
		return false, nil
	}

	pending, err := repository.NewClaimRepository().CountPendingClaims(ctx, db, campaign.ID)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}

	if err := repository.NewCampaignRepository().SetStatus(ctx, db, campaign.ID, model.StatusEnded); err != nil {
		return false, err
	}
	if err := repository.NewAuditRepository().Record(ctx, db, "campaign.ended", "campaign", campaign.ID,
		campaign.Status, model.StatusEnded); err != nil {
		return false, err
	}
	campaign.Status = model.StatusEnded
	return true, nil
}

// transient passes claim taxonomy errors through and marks everything else
// as retryable
func transient(err error) error {
	if model.Reason(err) != "internal" {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrTransient, err)
}
