package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/model"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func testConfig() config.NotifyConfig {
	return config.NotifyConfig{
		FromAddress:   "deals@shop.example",
		VerifyBaseURL: "https://api.shop.example/verify",
		ShopURL:       "https://shop.example",
	}
}

var campaign = &model.Campaign{ID: 3, Name: "Summer Sale", DiscountType: model.DiscountPercentage}

func textOf(in *sesv2.SendEmailInput) (string, string) {
	return aws.ToString(in.Content.Simple.Subject.Data), aws.ToString(in.Content.Simple.Body.Text.Data)
}

func TestSESNotifier_SendVerification(t *testing.T) {
	client := &fakeSES{}
	n, err := NewSESNotifierWithClient(client, testConfig())
	require.NoError(t, err)
	n.WithLinkTTL(30 * time.Minute)

	require.NoError(t, n.SendVerification(context.Background(), "alice@example.com", "abc123", campaign))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "deals@shop.example", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"alice@example.com"}, in.Destination.ToAddresses)

	subject, body := textOf(in)
	assert.Equal(t, "Confirm your Summer Sale discount", subject)
	assert.Contains(t, body, "https://api.shop.example/verify?token=abc123")
	assert.Contains(t, body, "30 minutes")
}

func TestSESNotifier_SendConfirmation(t *testing.T) {
	client := &fakeSES{}
	n, err := NewSESNotifierWithClient(client, testConfig())
	require.NoError(t, err)

	claim := &model.Claim{
		Email:         "alice@example.com",
		IssuedCode:    "FOMO-ABCDEFGHJKMN",
		DiscountValue: decimal.NewFromInt(25),
		ExpiresAt:     time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, n.SendConfirmation(context.Background(), claim, campaign))

	subject, body := textOf(client.inputs[0])
	assert.Equal(t, "Your Summer Sale discount code", subject)
	assert.Contains(t, body, "FOMO-ABCDEFGHJKMN")
	assert.Contains(t, body, "25% off")
	assert.Contains(t, body, "2026-07-01 12:00 UTC")
}

func TestSESNotifier_SendError(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	n, err := NewSESNotifierWithClient(client, testConfig())
	require.NoError(t, err)

	err = n.SendWaitlistNotice(context.Background(), "bob@example.com", campaign)
	assert.ErrorContains(t, err, "throttled")
}

func TestNewSESNotifier_RequiresFrom(t *testing.T) {
	_, err := NewSESNotifierWithClient(&fakeSES{}, config.NotifyConfig{})
	assert.Error(t, err)
}

func TestVerifyLink(t *testing.T) {
	assert.Equal(t, "https://x.example/verify?token=t%2B1", VerifyLink("https://x.example/verify", "t+1"))
	assert.Equal(t, "https://x.example/?page=v&token=abc", VerifyLink("https://x.example/?page=v", "abc"))
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier("http://localhost/verify")
	ctx := context.Background()
	assert.NoError(t, n.SendVerification(ctx, "a@example.com", "tok", campaign))
	assert.NoError(t, n.SendConfirmation(ctx, &model.Claim{Email: "a@example.com"}, campaign))
	assert.NoError(t, n.SendWaitlistNotice(ctx, "a@example.com", campaign))
}
