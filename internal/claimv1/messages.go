// Package claimv1 defines the fomo.claim.v1.ClaimService wire contract:
// request and response messages, the JSON codec and the connect handler and
// client constructors.
package claimv1

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/fomo/internal/model"
)

type ClaimRequest struct {
	CampaignID int64  `json:"campaign_id" validate:"required,gt=0"`
	Email      string `json:"email"`
	IP         string `json:"ip"`
	// Trusted skips email verification. Requires the admin token.
	Trusted bool `json:"trusted,omitempty"`
}

// ClaimResponse withholds IssuedCode until the email is verified
type ClaimResponse struct {
	ClaimID              string             `json:"claim_id"`
	IssuedCode           string             `json:"issued_code,omitempty"`
	ExpiresAt            time.Time          `json:"expires_at"`
	CodesRemaining       int32              `json:"codes_remaining"`
	DiscountType         model.DiscountType `json:"discount_type"`
	DiscountValue        decimal.Decimal    `json:"discount_value"`
	VerificationRequired bool               `json:"verification_required"`
}

type VerifyRequest struct {
	Token string `json:"token" validate:"required,hexadecimal,len=64"`
}

type VerifyResponse struct {
	ClaimID       string             `json:"claim_id"`
	CampaignID    int64              `json:"campaign_id"`
	IssuedCode    string             `json:"issued_code"`
	ExpiresAt     time.Time          `json:"expires_at"`
	DiscountType  model.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal    `json:"discount_value"`
	Finalized     bool               `json:"finalized"`
}

type GetCampaignStatusRequest struct {
	CampaignID int64 `json:"campaign_id" validate:"required,gt=0"`
}

// GetCampaignStatusResponse carries the discount the next claimant would get
type GetCampaignStatusResponse struct {
	CampaignID      int64                `json:"campaign_id"`
	Name            string               `json:"name"`
	Status          model.CampaignStatus `json:"status"`
	TotalCodes      int32                `json:"total_codes"`
	CodesRemaining  int32                `json:"codes_remaining"`
	DiscountType    model.DiscountType   `json:"discount_type"`
	CurrentDiscount decimal.Decimal      `json:"current_discount"`
}

// JoinWaitlistRequest without a campaign joins the global waitlist
type JoinWaitlistRequest struct {
	CampaignID *int64 `json:"campaign_id,omitempty" validate:"omitempty,gt=0"`
	Email      string `json:"email" validate:"required,email,max=254"`
}

type JoinWaitlistResponse struct {
	ID       int64     `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

type CreateCampaignRequest struct {
	Name           string             `json:"name" validate:"required,max=200"`
	DiscountType   model.DiscountType `json:"discount_type" validate:"required,oneof=percentage fixed_amount"`
	DiscountValue  decimal.Decimal    `json:"discount_value"`
	Tiers          model.Tiers        `json:"tier_thresholds,omitempty"`
	TotalCodes     int32              `json:"total_codes" validate:"min=1,max=10000"`
	ExpiryHours    int32              `json:"expiry_hours" validate:"min=1,max=8760"`
	IPLimitEnabled bool               `json:"ip_limit_enabled"`
	MaxClaimsPerIP int32              `json:"max_claims_per_ip" validate:"min=0,max=1000"`
	ScopeType      model.ScopeType    `json:"scope_type" validate:"omitempty,oneof=all products categories"`
	ScopeIDs       []int64            `json:"scope_ids,omitempty" validate:"dive,gt=0"`
}

type CreateCampaignResponse struct {
	Campaign *model.Campaign `json:"campaign"`
}

type SetCampaignStatusRequest struct {
	CampaignID int64                `json:"campaign_id" validate:"required,gt=0"`
	Status     model.CampaignStatus `json:"status" validate:"required,oneof=active paused ended"`
}

type SetCampaignStatusResponse struct {
	Campaign *model.Campaign `json:"campaign"`
}

type SweepResponse struct {
	Released      int  `json:"released"`
	Reissued      int  `json:"reissued"`
	TokensDeleted int  `json:"tokens_deleted"`
	Skipped       bool `json:"skipped"`
}
