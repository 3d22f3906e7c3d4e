package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/sellerops/internal/auth/token"
	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/pysugar/sellerops/internal/logging"
	"go.uber.org/zap"
)

// AccountParam is the chi URL parameter carrying the seller account id.
const AccountParam = "accountId"

// FreshnessGuard is what AccountGuard needs from the token manager.
type FreshnessGuard interface {
	EnsureFresh(ctx context.Context, accountID, ownerID string) (*models.Account, error)
}

type errorBody struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	TimeToExpiry *int64 `json:"timeToExpiry,omitempty"` // seconds
}

// AccountGuard runs before every route that talks to the marketplace API. It
// makes sure the account's token is usable (refreshing it when needed) and
// attaches the account to the request, or answers with a typed error.
func AccountGuard(guard FreshnessGuard) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := chi.URLParam(r, AccountParam)
			ownerID := OwnerIDFromContext(r.Context())

			acc, err := guard.EnsureFresh(r.Context(), accountID, ownerID)
			if err != nil {
				WriteGuardError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// WriteGuardError renders an EnsureFresh failure. Anything that is not a
// *token.GuardError is an internal fault.
func WriteGuardError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *token.GuardError
	if !errors.As(err, &gerr) {
		logging.FromContext(r.Context()).Error("token validation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errorBody{Error: "Failed to validate token"})
		return
	}

	body := errorBody{Error: gerr.Message, Code: string(gerr.Code)}
	if gerr.TimeToExpiry != nil {
		secs := int64(gerr.TimeToExpiry.Seconds())
		body.TimeToExpiry = &secs
	}
	if gerr.Status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("token validation", zap.Error(gerr))
	}
	writeError(w, gerr.Status, body)
}

// WithAccount attaches a validated account to ctx.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, accountKey, acc)
}

// AccountFromContext returns the account attached by AccountGuard.
func AccountFromContext(ctx context.Context) (*models.Account, bool) {
	acc, ok := ctx.Value(accountKey).(*models.Account)
	return acc, ok
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
