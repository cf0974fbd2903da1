package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/metrics"
	"github.com/kkkkikiki/fomo/internal/model"
)

// SESClient is the part of *sesv2.Client the notifier uses
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type message struct {
	subject *liquid.Template
	body    *liquid.Template
}

const (
	verificationSubject = `Confirm your {{ campaign }} discount`
	verificationBody    = `Hi,

Click the link below to confirm your email and get your discount code:

{{ link }}

The link expires in {{ ttl_minutes }} minutes. If you did not request a code, ignore this email.
`

	confirmationSubject = `Your {{ campaign }} discount code`
	confirmationBody    = `Hi,

Your discount code is {{ code }}. It is worth {{ discount }}{% if percentage %}%{% endif %} off and can be used once until {{ expires_at }}.

Shop now: {{ shop_url }}
`

	waitlistSubject = `{{ campaign }} codes are available again`
	waitlistBody    = `Hi,

Codes for {{ campaign }} became available again. Claim yours before they run out:

{{ shop_url }}
`
)

// SESNotifier sends plain-text emails through Amazon SES
type SESNotifier struct {
	client        SESClient
	from          string
	verifyBaseURL string
	shopURL       string
	linkTTL       time.Duration

	verification message
	confirmation message
	waitlist     message
}

// NewSESNotifier creates an SES notifier. Static credentials are used when
// configured; otherwise the default AWS credential chain applies.
func NewSESNotifier(ctx context.Context, cfg config.NotifyConfig) (*SESNotifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESNotifierWithClient creates an SES notifier around an existing client
func NewSESNotifierWithClient(client SESClient, cfg config.NotifyConfig) (*SESNotifier, error) {
	if cfg.FromAddress == "" {
		return nil, errors.New("notify from address is required")
	}

	engine := liquid.NewEngine()
	parse := func(subject, body string) (message, error) {
		s, parseErr := engine.ParseString(subject)
		if parseErr != nil {
			return message{}, fmt.Errorf("failed to parse subject template: %w", parseErr)
		}
		b, parseErr := engine.ParseString(body)
		if parseErr != nil {
			return message{}, fmt.Errorf("failed to parse body template: %w", parseErr)
		}
		return message{subject: s, body: b}, nil
	}

	n := &SESNotifier{
		client:        client,
		from:          cfg.FromAddress,
		verifyBaseURL: cfg.VerifyBaseURL,
		shopURL:       cfg.ShopURL,
		linkTTL:       time.Hour,
	}
	var err error
	if n.verification, err = parse(verificationSubject, verificationBody); err != nil {
		return nil, err
	}
	if n.confirmation, err = parse(confirmationSubject, confirmationBody); err != nil {
		return nil, err
	}
	if n.waitlist, err = parse(waitlistSubject, waitlistBody); err != nil {
		return nil, err
	}
	return n, nil
}

// WithLinkTTL sets the verification link lifetime quoted in emails
func (n *SESNotifier) WithLinkTTL(ttl time.Duration) *SESNotifier {
	n.linkTTL = ttl
	return n
}

func (n *SESNotifier) SendVerification(ctx context.Context, email, token string, campaign *model.Campaign) error {
	return n.send(ctx, "verification", email, n.verification, liquid.Bindings{
		"campaign":    campaign.Name,
		"link":        VerifyLink(n.verifyBaseURL, token),
		"ttl_minutes": int(n.linkTTL.Minutes()),
	})
}

func (n *SESNotifier) SendConfirmation(ctx context.Context, claim *model.Claim, campaign *model.Campaign) error {
	return n.send(ctx, "confirmation", claim.Email, n.confirmation, liquid.Bindings{
		"campaign":   campaign.Name,
		"code":       claim.IssuedCode,
		"discount":   claim.DiscountValue.String(),
		"percentage": campaign.DiscountType == model.DiscountPercentage,
		"expires_at": claim.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
		"shop_url":   n.shopURL,
	})
}

func (n *SESNotifier) SendWaitlistNotice(ctx context.Context, email string, campaign *model.Campaign) error {
	return n.send(ctx, "waitlist", email, n.waitlist, liquid.Bindings{
		"campaign": campaign.Name,
		"shop_url": n.shopURL,
	})
}

func (n *SESNotifier) send(ctx context.Context, kind, to string, msg message, bindings liquid.Bindings) error {
	subject, renderErr := msg.subject.RenderString(bindings)
	if renderErr != nil {
		return fmt.Errorf("failed to render %s subject: %w", kind, renderErr)
	}
	body, renderErr := msg.body.RenderString(bindings)
	if renderErr != nil {
		return fmt.Errorf("failed to render %s body: %w", kind, renderErr)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := n.client.SendEmail(ctx, input)
	if err != nil {
		metrics.RecordNotification(kind, "failed")
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	metrics.RecordNotification(kind, "sent")
	logger.Debug("email sent", "kind", kind, "email", to, "message_id", aws.ToString(out.MessageId))
	return nil
}
