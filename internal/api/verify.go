package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/kkkkikiki/fomo/internal/claimv1"
	"github.com/kkkkikiki/fomo/internal/model"
)

// TokenVerifier confirms a verification token
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*claimv1.VerifyResponse, error)
}

var verifyStatus = map[error]int{
	model.ErrTokenNotFound:    http.StatusNotFound,
	model.ErrTokenExpired:     http.StatusGone,
	model.ErrAlreadyClaimed:   http.StatusConflict,
	model.ErrCampaignNotFound: http.StatusNotFound,
	model.ErrTransient:        http.StatusServiceUnavailable,
	model.ErrIssuerFailure:    http.StatusServiceUnavailable,
}

// verifyHandler serves the link from the verification email. Browsers are
// sent on to the shop when shopURL is set; everything else gets JSON.
func verifyHandler(v TokenVerifier, shopURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := v.VerifyToken(r.Context(), r.URL.Query().Get("token"))

		if shopURL != "" && strings.Contains(r.Header.Get("Accept"), "text/html") {
			q := url.Values{}
			if err != nil {
				q.Set("error", model.Reason(err))
			} else {
				q.Set("code", res.IssuedCode)
				q.Set("claim_id", res.ClaimID)
			}
			http.Redirect(w, r, shopURL+"?"+q.Encode(), http.StatusSeeOther)
			return
		}

		if err != nil {
			cause := model.Cause(err)
			status, ok := verifyStatus[cause]
			switch {
			case cause == nil:
				status = http.StatusInternalServerError
			case !ok:
				status = http.StatusBadRequest
			}
			w.Header().Set(claimv1.ErrorCodeHeader, model.Reason(err))
			writeJSON(w, status, map[string]string{"error": model.Reason(err)})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
