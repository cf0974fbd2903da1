package model

import "errors"

// Claim rejections. Everything except ErrTransient and ErrIssuerFailure is a
// terminal answer to the caller.
var (
	ErrInvalidIdentity     = errors.New("invalid email address")
	ErrInvalidIP           = errors.New("invalid ip address")
	ErrIPBanned            = errors.New("ip address is not allowed")
	ErrAlreadyClaimed      = errors.New("a code was already claimed for this campaign")
	ErrVerificationPending = errors.New("a verification email was already sent")
	ErrIPQuotaExceeded     = errors.New("maximum codes claimed from this ip address")
	ErrRateLimited         = errors.New("too many requests")
	ErrSoldOut             = errors.New("no more codes available")
	ErrCampaignInactive    = errors.New("campaign is not active")
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrInvalidCampaign     = errors.New("invalid campaign")
	ErrAlreadyOnWaitlist   = errors.New("already on the waitlist")
	ErrCodesAvailable      = errors.New("codes are still available")
	ErrTokenExpired        = errors.New("verification link expired")
	ErrTokenNotFound       = errors.New("verification link not found")
	ErrTransient           = errors.New("temporary failure, please retry")
	ErrIssuerFailure       = errors.New("coupon issuer failure")
	ErrUnauthorized        = errors.New("missing or invalid admin token")
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidIdentity, "invalid_identity"},
	{ErrInvalidIP, "invalid_ip"},
	{ErrIPBanned, "ip_banned"},
	{ErrAlreadyClaimed, "already_claimed"},
	{ErrVerificationPending, "verification_pending"},
	{ErrIPQuotaExceeded, "ip_quota_exceeded"},
	{ErrRateLimited, "rate_limited"},
	{ErrSoldOut, "sold_out"},
	{ErrCampaignInactive, "campaign_inactive"},
	{ErrCampaignNotFound, "campaign_not_found"},
	{ErrInvalidCampaign, "invalid_campaign"},
	{ErrAlreadyOnWaitlist, "already_on_waitlist"},
	{ErrCodesAvailable, "codes_available"},
	{ErrTokenExpired, "token_expired"},
	{ErrTokenNotFound, "token_not_found"},
	{ErrTransient, "transient_error"},
	{ErrIssuerFailure, "issuer_failure"},
	{ErrUnauthorized, "unauthorized"},
}

// Cause returns the taxonomy error err wraps, or nil when there is none
func Cause(err error) error {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.err
		}
	}
	return nil
}

// Reason returns the wire error code for err, or "internal" when err is not
// part of the claim taxonomy.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal"
}
