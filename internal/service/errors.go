package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/fomo/internal/claimv1"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/model"
)

var connectCodes = map[error]connect.Code{
	model.ErrInvalidIdentity:     connect.CodeInvalidArgument,
	model.ErrInvalidIP:           connect.CodeInvalidArgument,
	model.ErrInvalidCampaign:     connect.CodeInvalidArgument,
	model.ErrIPBanned:            connect.CodePermissionDenied,
	model.ErrAlreadyClaimed:      connect.CodeAlreadyExists,
	model.ErrAlreadyOnWaitlist:   connect.CodeAlreadyExists,
	model.ErrVerificationPending: connect.CodeFailedPrecondition,
	model.ErrCampaignInactive:    connect.CodeFailedPrecondition,
	model.ErrCodesAvailable:      connect.CodeFailedPrecondition,
	model.ErrTokenExpired:        connect.CodeFailedPrecondition,
	model.ErrIPQuotaExceeded:     connect.CodeResourceExhausted,
	model.ErrRateLimited:         connect.CodeResourceExhausted,
	model.ErrSoldOut:             connect.CodeResourceExhausted,
	model.ErrCampaignNotFound:    connect.CodeNotFound,
	model.ErrTokenNotFound:       connect.CodeNotFound,
	model.ErrTransient:           connect.CodeUnavailable,
	model.ErrIssuerFailure:       connect.CodeUnavailable,
	model.ErrUnauthorized:        connect.CodeUnauthenticated,
}

// toConnectError converts a claim taxonomy error into a connect error with
// the taxonomy code in the Error-Code header. Storage details never reach
// the client.
func toConnectError(err error) error {
	cause := model.Cause(err)

	var cerr *connect.Error
	switch {
	case cause == nil:
		logger.Error("unexpected error", "error", err)
		cerr = connect.NewError(connect.CodeInternal, errors.New("internal error"))
	case cause == model.ErrInvalidCampaign:
		cerr = connect.NewError(connect.CodeInvalidArgument, err)
	default:
		if cause == model.ErrTransient || cause == model.ErrIssuerFailure {
			logger.Warn("request failed", "error", err)
		}
		cerr = connect.NewError(connectCodes[cause], cause)
	}

	cerr.Meta().Set(claimv1.ErrorCodeHeader, model.Reason(err))
	return cerr
}

// transient passes taxonomy errors through and marks everything else as
// retryable
func transient(err error) error {
	if model.Cause(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrTransient, err)
}

// NewAdminInterceptor rejects admin procedures without the admin bearer
// token. An empty token disables the check.
func NewAdminInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if claimv1.AdminProcedures[req.Spec().Procedure] && !authorized(token, req.Header()) {
				return nil, toConnectError(model.ErrUnauthorized)
			}
			return next(ctx, req)
		}
	}
}

func authorized(token string, header http.Header) bool {
	if token == "" {
		return true
	}
	got, ok := strings.CutPrefix(header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
