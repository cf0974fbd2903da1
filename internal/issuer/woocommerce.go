package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/model"
)

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WooCommerce creates coupons through the WooCommerce REST API (v3)
type WooCommerce struct {
	baseURL    string
	key        string
	secret     string
	client     HTTPDoer
	maxRetries int
	retryDelay time.Duration
}

// NewWooCommerce creates a WooCommerce issuer from config
func NewWooCommerce(cfg config.IssuerConfig) (*WooCommerce, error) {
	if cfg.BaseURL == "" || cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, errors.New("woocommerce issuer needs base url, consumer key and consumer secret")
	}
	return &WooCommerce{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		key:        cfg.ConsumerKey,
		secret:     cfg.ConsumerSecret,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
	}, nil
}

// WithClient replaces the HTTP client
func (w *WooCommerce) WithClient(client HTTPDoer) *WooCommerce {
	w.client = client
	return w
}

type wcCoupon struct {
	ID                int64    `json:"id,omitempty"`
	Code              string   `json:"code"`
	DiscountType      string   `json:"discount_type"`
	Amount            string   `json:"amount"`
	IndividualUse     bool     `json:"individual_use"`
	UsageLimit        int      `json:"usage_limit"`
	UsageLimitPerUser int      `json:"usage_limit_per_user"`
	EmailRestrictions []string `json:"email_restrictions"`
	DateExpiresGMT    string   `json:"date_expires_gmt,omitempty"`
	ProductIDs        []int64  `json:"product_ids,omitempty"`
	ProductCategories []int64  `json:"product_categories,omitempty"`
}

// Issue returns the existing coupon for req.Code, or creates it
func (w *WooCommerce) Issue(ctx context.Context, req Request) (string, error) {
	existing, err := w.find(ctx, req.Code)
	if err != nil {
		return "", err
	}
	if existing != "" {
		logger.Debug("coupon already exists", "code", req.Code, "coupon_id", existing)
		return existing, nil
	}

	coupon := wcCoupon{
		Code:              req.Code,
		DiscountType:      "fixed_cart",
		Amount:            req.DiscountValue.StringFixed(2),
		IndividualUse:     true,
		UsageLimit:        1,
		UsageLimitPerUser: 1,
		EmailRestrictions: []string{req.Email},
	}
	if req.DiscountType == model.DiscountPercentage {
		coupon.DiscountType = "percent"
	}
	if !req.ExpiresAt.IsZero() {
		coupon.DateExpiresGMT = req.ExpiresAt.UTC().Format("2006-01-02T15:04:05")
	}
	switch req.Scope.Type {
	case model.ScopeProducts:
		coupon.ProductIDs = req.Scope.IDs
	case model.ScopeCategories:
		coupon.ProductCategories = req.Scope.IDs
	}

	body, err := json.Marshal(coupon)
	if err != nil {
		return "", fmt.Errorf("failed to encode coupon: %w", err)
	}

	var created wcCoupon
	if err := w.do(ctx, http.MethodPost, "/wp-json/wc/v3/coupons", nil, body, &created); err != nil {
		return "", fmt.Errorf("failed to create coupon: %w", err)
	}
	return strconv.FormatInt(created.ID, 10), nil
}

func (w *WooCommerce) find(ctx context.Context, code string) (string, error) {
	var found []wcCoupon
	query := url.Values{"code": {code}}
	if err := w.do(ctx, http.MethodGet, "/wp-json/wc/v3/coupons", query, nil, &found); err != nil {
		return "", fmt.Errorf("failed to look up coupon: %w", err)
	}
	for _, c := range found {
		if strings.EqualFold(c.Code, code) {
			return strconv.FormatInt(c.ID, 10), nil
		}
	}
	return "", nil
}

func (w *WooCommerce) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	endpoint := w.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(w.retryDelay * time.Duration(1<<(attempt-1)))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.SetBasicAuth(w.key, w.secret)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			lastErr = err
			continue
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("woocommerce returned %d", resp.StatusCode)
		default:
			return fmt.Errorf("woocommerce returned %d: %s", resp.StatusCode, truncate(data, 200))
		}
	}
	return lastErr
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
