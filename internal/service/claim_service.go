package service

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/kkkkikiki/fomo/internal/allocator"
	"github.com/kkkkikiki/fomo/internal/claimv1"
	"github.com/kkkkikiki/fomo/internal/eligibility"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/metrics"
	"github.com/kkkkikiki/fomo/internal/model"
	"github.com/kkkkikiki/fomo/internal/ratelimit"
	"github.com/kkkkikiki/fomo/internal/repository"
	"github.com/kkkkikiki/fomo/internal/tier"
	"github.com/kkkkikiki/fomo/internal/verification"
	"github.com/kkkkikiki/fomo/internal/worker"
)

var (
	maxPercentage  = decimal.NewFromInt(100)
	maxFixedAmount = decimal.NewFromInt(10000)
)

// Reserver takes a code slot from a campaign
type Reserver interface {
	Reserve(ctx context.Context, req allocator.Request) (*allocator.Reservation, error)
}

// ClaimFlow runs everything after the reservation: verification, coupon
// delivery and waitlist notices
type ClaimFlow interface {
	StartVerification(ctx context.Context, claim *model.Claim, campaign *model.Campaign, token string)
	Confirm(ctx context.Context, token string) (*model.Claim, error)
	Deliver(ctx context.Context, claim *model.Claim, campaign *model.Campaign)
	AnnounceCampaign(ctx context.Context, campaign *model.Campaign)
}

// Maintenance runs one sweep/reissue/cleanup pass
type Maintenance interface {
	RunOnce(ctx context.Context) (worker.Result, error)
}

// Dependencies are the collaborators of ClaimServer
type Dependencies struct {
	Checker     *eligibility.Checker
	Allocator   Reserver
	Flow        ClaimFlow
	Limiter     ratelimit.Limiter
	Maintenance Maintenance
	AdminToken  string
}

// ClaimServer implements the claim service
type ClaimServer struct {
	postgres     *sqlx.DB
	deps         Dependencies
	campaignRepo *repository.CampaignRepository
	waitlistRepo *repository.WaitlistRepository
	auditRepo    *repository.AuditRepository
	tiers        *tier.Calculator
	validate     *validator.Validate
}

var _ claimv1.ClaimServiceHandler = (*ClaimServer)(nil)

// NewClaimServer creates a new ClaimServer instance
func NewClaimServer(postgres *sqlx.DB, deps Dependencies) *ClaimServer {
	return &ClaimServer{
		postgres:     postgres,
		deps:         deps,
		campaignRepo: repository.NewCampaignRepository(),
		waitlistRepo: repository.NewWaitlistRepository(),
		auditRepo:    repository.NewAuditRepository(),
		tiers:        tier.NewCalculator(),
		validate:     validator.New(),
	}
}

// Claim reserves a code for an identity. Untrusted identities get a
// verification email and see the code only after confirming it.
func (s *ClaimServer) Claim(
	ctx context.Context,
	req *connect.Request[claimv1.ClaimRequest],
) (*connect.Response[claimv1.ClaimResponse], error) {
	start := time.Now()
	status := "failed"
	defer func() {
		metrics.RecordClaimDuration(status, time.Since(start).Seconds())
	}()

	resp, err := s.claim(ctx, req)
	if err != nil {
		status = model.Reason(err)
		return nil, toConnectError(err)
	}
	if resp.VerificationRequired {
		status = "pending"
	} else {
		status = "claimed"
	}
	return connect.NewResponse(resp), nil
}

func (s *ClaimServer) claim(ctx context.Context, req *connect.Request[claimv1.ClaimRequest]) (*claimv1.ClaimResponse, error) {
	msg := req.Msg
	if err := s.validate.Struct(msg); err != nil {
		return nil, model.ErrCampaignNotFound
	}
	if msg.Trusted && !authorized(s.deps.AdminToken, req.Header()) {
		return nil, model.ErrUnauthorized
	}

	ip := msg.IP
	if ip == "" {
		ip = peerIP(req.Peer().Addr)
	}
	identity, err := s.deps.Checker.Validate(msg.Email, ip)
	if err != nil {
		return nil, err
	}

	allowed, err := s.deps.Limiter.Allow(ctx, ratelimit.Key(msg.CampaignID, identity.IP))
	if err != nil {
		// abuse control only: an unavailable limiter does not block claims
		logger.Warn("rate limiter unavailable", "error", err)
	} else if !allowed {
		return nil, model.ErrRateLimited
	}

	var token, tokenHash string
	if !msg.Trusted {
		if token, tokenHash, err = verification.NewToken(); err != nil {
			return nil, transient(err)
		}
	}

	res, err := s.deps.Allocator.Reserve(ctx, allocator.Request{
		CampaignID: msg.CampaignID,
		Identity:   identity,
		Trusted:    msg.Trusted,
		TokenHash:  tokenHash,
	})
	if err != nil {
		return nil, err
	}
	claim, campaign := res.Claim, res.Campaign

	resp := &claimv1.ClaimResponse{
		ClaimID:              claim.ID.String(),
		ExpiresAt:            claim.ExpiresAt,
		CodesRemaining:       campaign.CodesRemaining,
		DiscountType:         campaign.DiscountType,
		DiscountValue:        claim.DiscountValue,
		VerificationRequired: !claim.Verified,
	}

	if claim.Verified {
		s.deps.Flow.Deliver(ctx, claim, campaign)
		resp.IssuedCode = claim.IssuedCode
		return resp, nil
	}

	s.deps.Flow.StartVerification(ctx, claim, campaign, token)
	return resp, nil
}

// Verify confirms an email address with the token from the verification link
func (s *ClaimServer) Verify(
	ctx context.Context,
	req *connect.Request[claimv1.VerifyRequest],
) (*connect.Response[claimv1.VerifyResponse], error) {
	resp, err := s.verify(ctx, req.Msg.Token)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(resp), nil
}

// VerifyToken is Verify for callers outside connect, such as the plain
// HTTP verification link
func (s *ClaimServer) VerifyToken(ctx context.Context, token string) (*claimv1.VerifyResponse, error) {
	return s.verify(ctx, token)
}

func (s *ClaimServer) verify(ctx context.Context, token string) (*claimv1.VerifyResponse, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if err := s.validate.Struct(&claimv1.VerifyRequest{Token: token}); err != nil {
		return nil, model.ErrTokenNotFound
	}

	claim, err := s.deps.Flow.Confirm(ctx, token)
	if err != nil {
		return nil, err
	}

	campaign, err := s.campaignRepo.GetCampaign(ctx, s.postgres, claim.CampaignID)
	if err != nil {
		return nil, transient(err)
	}

	return &claimv1.VerifyResponse{
		ClaimID:       claim.ID.String(),
		CampaignID:    claim.CampaignID,
		IssuedCode:    claim.IssuedCode,
		ExpiresAt:     claim.ExpiresAt,
		DiscountType:  campaign.DiscountType,
		DiscountValue: claim.DiscountValue,
		Finalized:     claim.Finalized(),
	}, nil
}

// GetCampaignStatus reports availability and the discount the next claim
// would get
func (s *ClaimServer) GetCampaignStatus(
	ctx context.Context,
	req *connect.Request[claimv1.GetCampaignStatusRequest],
) (*connect.Response[claimv1.GetCampaignStatusResponse], error) {
	if err := s.validate.Struct(req.Msg); err != nil {
		return nil, toConnectError(model.ErrCampaignNotFound)
	}

	campaign, err := s.campaignRepo.GetCampaign(ctx, s.postgres, req.Msg.CampaignID)
	if err != nil {
		return nil, toConnectError(transient(err))
	}

	res := connect.NewResponse(&claimv1.GetCampaignStatusResponse{
		CampaignID:      campaign.ID,
		Name:            campaign.Name,
		Status:          campaign.Status,
		TotalCodes:      campaign.TotalCodes,
		CodesRemaining:  campaign.CodesRemaining,
		DiscountType:    campaign.DiscountType,
		CurrentDiscount: s.tiers.DiscountFor(campaign, campaign.ClaimedSoFar()),
	})
	res.Header().Set("Cache-Control", "no-store")
	return res, nil
}

// JoinWaitlist registers an email to hear about released codes. Joining a
// campaign's list is only possible while it has nothing to claim.
func (s *ClaimServer) JoinWaitlist(
	ctx context.Context,
	req *connect.Request[claimv1.JoinWaitlistRequest],
) (*connect.Response[claimv1.JoinWaitlistResponse], error) {
	msg := req.Msg
	msg.Email = strings.ToLower(strings.TrimSpace(msg.Email))
	if err := s.validate.Struct(msg); err != nil {
		return nil, toConnectError(model.ErrInvalidIdentity)
	}

	if msg.CampaignID != nil {
		campaign, err := s.campaignRepo.GetCampaign(ctx, s.postgres, *msg.CampaignID)
		if err != nil {
			return nil, toConnectError(transient(err))
		}
		if campaign.CodesRemaining > 0 && campaign.Status == model.StatusActive {
			return nil, toConnectError(model.ErrCodesAvailable)
		}
	}

	entry := &model.WaitlistEntry{CampaignID: msg.CampaignID, Email: msg.Email}
	if err := s.waitlistRepo.JoinWaitlist(ctx, s.postgres, entry); err != nil {
		return nil, toConnectError(transient(err))
	}

	return connect.NewResponse(&claimv1.JoinWaitlistResponse{
		ID:       entry.ID,
		JoinedAt: entry.JoinedAt,
	}), nil
}

// CreateCampaign creates a new campaign with a full pool of codes
func (s *ClaimServer) CreateCampaign(
	ctx context.Context,
	req *connect.Request[claimv1.CreateCampaignRequest],
) (*connect.Response[claimv1.CreateCampaignResponse], error) {
	campaign, err := s.campaignFromRequest(req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}

	tx, err := s.postgres.BeginTxx(ctx, nil)
	if err != nil {
		return nil, toConnectError(transient(fmt.Errorf("failed to begin transaction: %w", err)))
	}
	defer tx.Rollback()

	if err := s.campaignRepo.CreateCampaign(ctx, tx, campaign); err != nil {
		return nil, toConnectError(transient(err))
	}
	if err := s.auditRepo.Record(ctx, tx, "campaign.created", "campaign", campaign.ID, nil, campaign); err != nil {
		return nil, toConnectError(transient(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, toConnectError(transient(fmt.Errorf("failed to commit transaction: %w", err)))
	}

	logger.Info("campaign created",
		"campaign_id", campaign.ID,
		"name", campaign.Name,
		"total_codes", campaign.TotalCodes,
	)
	s.deps.Flow.AnnounceCampaign(ctx, campaign)

	return connect.NewResponse(&claimv1.CreateCampaignResponse{Campaign: campaign}), nil
}

func (s *ClaimServer) campaignFromRequest(msg *claimv1.CreateCampaignRequest) (*model.Campaign, error) {
	if err := s.validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidCampaign, err)
	}

	if err := checkDiscount(msg.DiscountType, msg.DiscountValue); err != nil {
		return nil, err
	}
	if len(msg.Tiers) > 0 {
		if !tier.Validate(msg.Tiers) {
			return nil, fmt.Errorf("%w: tier thresholds must be positive code counts with an optional trailing catch-all", model.ErrInvalidCampaign)
		}
		for _, t := range msg.Tiers {
			if err := checkDiscount(msg.DiscountType, t.DiscountValue); err != nil {
				return nil, err
			}
		}
	}

	scope := msg.ScopeType
	if scope == "" {
		scope = model.ScopeAll
	}
	if scope != model.ScopeAll && len(msg.ScopeIDs) == 0 {
		return nil, fmt.Errorf("%w: scope %s needs at least one id", model.ErrInvalidCampaign, scope)
	}

	maxPerIP := msg.MaxClaimsPerIP
	if maxPerIP == 0 {
		maxPerIP = 1
	}

	return &model.Campaign{
		Name:           strings.TrimSpace(msg.Name),
		DiscountType:   msg.DiscountType,
		DiscountValue:  msg.DiscountValue,
		Tiers:          msg.Tiers,
		TotalCodes:     msg.TotalCodes,
		ExpiryHours:    msg.ExpiryHours,
		IPLimitEnabled: msg.IPLimitEnabled,
		MaxClaimsPerIP: maxPerIP,
		ScopeType:      scope,
		ScopeIDs:       msg.ScopeIDs,
		Status:         model.StatusActive,
	}, nil
}

func checkDiscount(kind model.DiscountType, value decimal.Decimal) error {
	if !value.IsPositive() {
		return fmt.Errorf("%w: discount value must be positive", model.ErrInvalidCampaign)
	}
	if kind == model.DiscountPercentage && value.GreaterThan(maxPercentage) {
		return fmt.Errorf("%w: percentage discount above 100", model.ErrInvalidCampaign)
	}
	if kind == model.DiscountFixedAmount && value.GreaterThan(maxFixedAmount) {
		return fmt.Errorf("%w: fixed discount above %s", model.ErrInvalidCampaign, maxFixedAmount)
	}
	return nil
}

// SetCampaignStatus pauses, resumes or ends a campaign
func (s *ClaimServer) SetCampaignStatus(
	ctx context.Context,
	req *connect.Request[claimv1.SetCampaignStatusRequest],
) (*connect.Response[claimv1.SetCampaignStatusResponse], error) {
	msg := req.Msg
	if err := s.validate.Struct(msg); err != nil {
		return nil, toConnectError(fmt.Errorf("%w: %v", model.ErrInvalidCampaign, err))
	}

	tx, err := s.postgres.BeginTxx(ctx, nil)
	if err != nil {
		return nil, toConnectError(transient(fmt.Errorf("failed to begin transaction: %w", err)))
	}
	defer tx.Rollback()

	campaign, err := s.campaignRepo.GetCampaignForUpdate(ctx, tx, msg.CampaignID)
	if err != nil {
		return nil, toConnectError(transient(err))
	}

	old := campaign.Status
	if old != msg.Status {
		if err := s.campaignRepo.SetStatus(ctx, tx, campaign.ID, msg.Status); err != nil {
			return nil, toConnectError(transient(err))
		}
		if err := s.auditRepo.Record(ctx, tx, "campaign.status", "campaign", campaign.ID, old, msg.Status); err != nil {
			return nil, toConnectError(transient(err))
		}
		campaign.Status = msg.Status
	}

	if err := tx.Commit(); err != nil {
		return nil, toConnectError(transient(fmt.Errorf("failed to commit transaction: %w", err)))
	}

	logger.Info("campaign status changed", "campaign_id", campaign.ID, "from", old, "to", campaign.Status)

	return connect.NewResponse(&claimv1.SetCampaignStatusResponse{Campaign: campaign}), nil
}

// Sweep runs the maintenance pass now instead of waiting for the ticker
func (s *ClaimServer) Sweep(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[claimv1.SweepResponse], error) {
	res, err := s.deps.Maintenance.RunOnce(ctx)
	if err != nil {
		return nil, toConnectError(transient(err))
	}

	return connect.NewResponse(&claimv1.SweepResponse{
		Released:      res.Released,
		Reissued:      res.Reissued,
		TokensDeleted: res.TokensDeleted,
		Skipped:       res.Skipped,
	}), nil
}

func peerIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
