// Package notify sends the emails of the claim flow.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/metrics"
	"github.com/kkkkikiki/fomo/internal/model"
)

// Notifier delivers messages to claimants. Callers log failures and move on.
type Notifier interface {
	SendVerification(ctx context.Context, email, token string, campaign *model.Campaign) error
	SendConfirmation(ctx context.Context, claim *model.Claim, campaign *model.Campaign) error
	SendWaitlistNotice(ctx context.Context, email string, campaign *model.Campaign) error
}

// New returns the notifier selected by cfg.Kind. linkTTL is the lifetime
// of verification links.
func New(ctx context.Context, cfg config.NotifyConfig, linkTTL time.Duration) (Notifier, error) {
	switch cfg.Kind {
	case "", "log":
		return NewLogNotifier(cfg.VerifyBaseURL), nil
	case "ses":
		n, err := NewSESNotifier(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return n.WithLinkTTL(linkTTL), nil
	default:
		return nil, fmt.Errorf("unknown notifier kind %q", cfg.Kind)
	}
}

// VerifyLink builds the link a claimant follows to confirm their email
func VerifyLink(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// LogNotifier writes messages to the log instead of sending them
type LogNotifier struct {
	verifyBaseURL string
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(verifyBaseURL string) *LogNotifier {
	return &LogNotifier{verifyBaseURL: verifyBaseURL}
}

func (n *LogNotifier) SendVerification(ctx context.Context, email, token string, campaign *model.Campaign) error {
	logger.Info("verification email",
		"email", email,
		"campaign_id", campaign.ID,
		"link", VerifyLink(n.verifyBaseURL, token),
	)
	metrics.RecordNotification("verification", "logged")
	return nil
}

func (n *LogNotifier) SendConfirmation(ctx context.Context, claim *model.Claim, campaign *model.Campaign) error {
	logger.Info("confirmation email",
		"email", claim.Email,
		"campaign_id", campaign.ID,
		"code", claim.IssuedCode,
		"expires_at", claim.ExpiresAt,
	)
	metrics.RecordNotification("confirmation", "logged")
	return nil
}

func (n *LogNotifier) SendWaitlistNotice(ctx context.Context, email string, campaign *model.Campaign) error {
	logger.Info("waitlist email", "email", email, "campaign_id", campaign.ID)
	metrics.RecordNotification("waitlist", "logged")
	return nil
}
