package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/sellerops/internal/auth/token"
	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guardFunc func(ctx context.Context, accountID, ownerID string) (*models.Account, error)

func (f guardFunc) EnsureFresh(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	return f(ctx, accountID, ownerID)
}

func guardedRouter(guard FreshnessGuard) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), "owner-1")))
		})
	})
	r.With(AccountGuard(guard)).Get("/accounts/{"+AccountParam+"}/me", func(w http.ResponseWriter, r *http.Request) {
		acc, ok := AccountFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Write([]byte(acc.AccountID))
	})
	return r
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAccountGuard_AttachesAccount(t *testing.T) {
	var gotAccount, gotOwner string
	guard := guardFunc(func(_ context.Context, accountID, ownerID string) (*models.Account, error) {
		gotAccount, gotOwner = accountID, ownerID
		return &models.Account{AccountID: accountID}, nil
	})

	rec := serve(guardedRouter(guard), "/accounts/100/me")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Body.String())
	assert.Equal(t, "100", gotAccount)
	assert.Equal(t, "owner-1", gotOwner)
}

func TestAccountGuard_Errors(t *testing.T) {
	ttl := -90 * time.Second
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
		ttl     *int64
	}{
		{
			name:    "not found",
			err:     &token.GuardError{Status: 404, Code: token.CodeAccountNotFound, Message: "Account not found"},
			status:  http.StatusNotFound,
			code:    "ACCOUNT_NOT_FOUND",
			message: "Account not found",
		},
		{
			name:    "expired",
			err:     &token.GuardError{Status: 401, Code: token.CodeTokenExpired, Message: "Access token has expired", TimeToExpiry: &ttl},
			status:  http.StatusUnauthorized,
			code:    "TOKEN_EXPIRED",
			message: "Access token has expired",
			ttl:     ptr(int64(-90)),
		},
		{
			name:    "wrapped guard error",
			err:     errors.Join(errors.New("context"), &token.GuardError{Status: 401, Code: token.CodeTokenRefreshFailed, Message: "Token refresh failed"}),
			status:  http.StatusUnauthorized,
			code:    "TOKEN_REFRESH_FAILED",
			message: "Token refresh failed",
		},
		{
			name:    "internal fault",
			err:     errors.New("database is locked"),
			status:  http.StatusInternalServerError,
			message: "Failed to validate token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := guardFunc(func(context.Context, string, string) (*models.Account, error) {
				return nil, tt.err
			})
			rec := serve(guardedRouter(guard), "/accounts/100/me")

			require.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.ttl, body.TimeToExpiry)
		})
	}
}

func ptr[T any](v T) *T { return &v }
