// Package issuer materializes claimed codes as redeemable coupons in the
// shop system.
package issuer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/model"
)

// Request describes the coupon to create. Code is the idempotency key.
type Request struct {
	Code          string
	DiscountType  model.DiscountType
	DiscountValue decimal.Decimal
	Email         string
	Scope         model.Scope
	ExpiresAt     time.Time
}

// Issuer creates coupons. Calling Issue twice with the same code must
// return the same coupon reference.
type Issuer interface {
	Issue(ctx context.Context, req Request) (string, error)
}

// New returns the issuer selected by cfg.Kind
func New(cfg config.IssuerConfig) (Issuer, error) {
	switch cfg.Kind {
	case "", "log":
		return NewLogIssuer(), nil
	case "woocommerce":
		w, err := NewWooCommerce(cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown issuer kind %q", cfg.Kind)
	}
}

// LogIssuer only logs. It is meant for development.
type LogIssuer struct{}

// NewLogIssuer creates a new log issuer
func NewLogIssuer() *LogIssuer {
	return &LogIssuer{}
}

// Issue logs the coupon and returns a reference derived from the code
func (l *LogIssuer) Issue(ctx context.Context, req Request) (string, error) {
	logger.Info("coupon issued",
		"code", req.Code,
		"email", req.Email,
		"discount_type", string(req.DiscountType),
		"discount_value", req.DiscountValue.String(),
		"expires_at", req.ExpiresAt,
	)
	return "log:" + req.Code, nil
}
