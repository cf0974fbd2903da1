package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/fomo/internal/claimv1"
	"github.com/kkkkikiki/fomo/internal/model"
)

type stubVerifier struct {
	token string
	res   *claimv1.VerifyResponse
	err   error
}

func (s *stubVerifier) VerifyToken(ctx context.Context, token string) (*claimv1.VerifyResponse, error) {
	s.token = token
	return s.res, s.err
}

func TestVerifyHandler_JSON(t *testing.T) {
	v := &stubVerifier{res: &claimv1.VerifyResponse{ClaimID: "c-1", IssuedCode: "FOMO-ABCDEFGHJKMN"}}
	rec := httptest.NewRecorder()

	verifyHandler(v, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify?token=abc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", v.token)
	var body claimv1.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FOMO-ABCDEFGHJKMN", body.IssuedCode)
}

func TestVerifyHandler_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{model.ErrTokenNotFound, http.StatusNotFound, "token_not_found"},
		{model.ErrTokenExpired, http.StatusGone, "token_expired"},
		{model.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
		{model.ErrTransient, http.StatusServiceUnavailable, "transient_error"},
		{model.ErrCampaignInactive, http.StatusBadRequest, "campaign_inactive"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			rec := httptest.NewRecorder()
			verifyHandler(&stubVerifier{err: tt.err}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify?token=x", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.reason, rec.Header().Get(claimv1.ErrorCodeHeader))
			assert.JSONEq(t, `{"error":"`+tt.reason+`"}`, rec.Body.String())
		})
	}
}

func TestVerifyHandler_BrowserRedirect(t *testing.T) {
	v := &stubVerifier{res: &claimv1.VerifyResponse{ClaimID: "c-1", IssuedCode: "FOMO-ABCDEFGHJKMN"}}
	req := httptest.NewRequest(http.MethodGet, "/verify?token=abc", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()

	verifyHandler(v, "https://shop.example.com/claimed").ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/claimed", loc.Path)
	assert.Equal(t, "FOMO-ABCDEFGHJKMN", loc.Query().Get("code"))
	assert.Equal(t, "c-1", loc.Query().Get("claim_id"))

	v.err = model.ErrTokenExpired
	rec = httptest.NewRecorder()
	verifyHandler(v, "https://shop.example.com/claimed").ServeHTTP(rec, req)

	loc, err = url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "token_expired", loc.Query().Get("error"))
	assert.Empty(t, loc.Query().Get("code"))
}
