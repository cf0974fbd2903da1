// Package eligibility decides whether an identity may claim a code.
package eligibility

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/model"
	"github.com/kkkkikiki/fomo/internal/repository"
)

var validate = validator.New()

// Identity is a validated claimant: lower-cased email and canonical IP
type Identity struct {
	Email string
	IP    string
}

// Checker runs eligibility rules. Validate is stateless; Evaluate reads
// claim records through whatever executor it is given, so the allocator
// can repeat it under the campaign lock.
type Checker struct {
	claimRepo  *repository.ClaimRepository
	disposable map[string]struct{}
	bannedIPs  []netip.Prefix
	now        func() time.Time
}

// NewChecker builds a checker from the loaded rules
func NewChecker(rules *config.Rules) (*Checker, error) {
	c := &Checker{
		claimRepo:  repository.NewClaimRepository(),
		disposable: make(map[string]struct{}, len(rules.DisposableDomains)),
		now:        time.Now,
	}
	for _, d := range rules.DisposableDomains {
		c.disposable[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, raw := range rules.BannedIPs {
		prefix, err := parseBan(raw)
		if err != nil {
			return nil, err
		}
		c.bannedIPs = append(c.bannedIPs, prefix)
	}
	return c, nil
}

// WithClock replaces the time source
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

func parseBan(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid banned range %q: %w", raw, err)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid banned ip %q: %w", raw, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Validate checks the shape of an identity without touching storage
func (c *Checker) Validate(email, ip string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return Identity{}, model.ErrInvalidIdentity
	}
	domain := email[strings.LastIndexByte(email, '@')+1:]
	if _, ok := c.disposable[domain]; ok {
		logger.Warn("disposable email rejected", "email", email)
		return Identity{}, model.ErrInvalidIdentity
	}

	ip = strings.TrimSpace(ip)
	if err := validate.Var(ip, "required,ip"); err != nil {
		return Identity{}, model.ErrInvalidIP
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Identity{}, model.ErrInvalidIP
	}
	addr = addr.Unmap()
	for _, banned := range c.bannedIPs {
		if banned.Contains(addr) {
			logger.Warn("banned ip rejected", "ip", addr.String())
			return Identity{}, model.ErrIPBanned
		}
	}

	return Identity{Email: email, IP: addr.String()}, nil
}

// Evaluate applies the per-campaign rules. It only reads.
func (c *Checker) Evaluate(ctx context.Context, db repository.DBExecutor, campaign *model.Campaign, id Identity) error {
	verified, err := c.claimRepo.HasVerifiedClaim(ctx, db, campaign.ID, id.Email)
	if err != nil {
		return err
	}
	if verified {
		return model.ErrAlreadyClaimed
	}

	pending, err := c.claimRepo.HasPendingClaim(ctx, db, campaign.ID, id.Email, c.now())
	if err != nil {
		return err
	}
	if pending {
		return model.ErrVerificationPending
	}

	if campaign.IPLimitEnabled {
		count, err := c.claimRepo.CountVerifiedClaimsByIP(ctx, db, campaign.ID, id.IP)
		if err != nil {
			return err
		}
		if count >= int(campaign.MaxClaimsPerIP) {
			return model.ErrIPQuotaExceeded
		}
	}

	return nil
}

// Check is the lock-free pre-filter: Validate then Evaluate against the
// current claim records
func (c *Checker) Check(ctx context.Context, db repository.DBExecutor, campaign *model.Campaign, email, ip string) (Identity, error) {
	id, err := c.Validate(email, ip)
	if err != nil {
		return Identity{}, err
	}
	if err := c.Evaluate(ctx, db, campaign, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}
