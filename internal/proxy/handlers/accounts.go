package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pysugar/sellerops/internal/auth/token"
	"github.com/pysugar/sellerops/internal/db"
	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/pysugar/sellerops/internal/proxy/middleware"
)

// AccountView is the client-facing shape of an account. Secrets never appear here.
type AccountView struct {
	AccountID       string              `json:"accountId"`
	Nickname        string              `json:"nickname,omitempty"`
	Status          string              `json:"status"`
	Freshness       string              `json:"freshness"`
	TokenExpiresAt  time.Time           `json:"tokenExpiresAt"`
	TimeToExpiry    int64               `json:"timeToExpiry"` // seconds
	HasRefreshToken bool                `json:"hasRefreshToken"`
	HasOwnOAuthApp  bool                `json:"hasOwnOAuthApp"`
	LastSyncStatus  string              `json:"lastSyncStatus"`
	LastSyncError   string              `json:"lastSyncError,omitempty"`
	LastSyncAt      *time.Time          `json:"lastSyncAt,omitempty"`
	ErrorCount      int                 `json:"errorCount"`
	ErrorHistory    []models.ErrorEntry `json:"errorHistory,omitempty"`
	DisconnectedAt  *time.Time          `json:"disconnectedAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// NewAccountView builds the view of acc as of now.
func NewAccountView(acc *models.Account, eval token.Evaluator, now time.Time) AccountView {
	return AccountView{
		AccountID:       acc.AccountID,
		Nickname:        acc.Nickname,
		Status:          string(acc.Status),
		Freshness:       eval.Classify(acc.TokenExpiresAt, now).String(),
		TokenExpiresAt:  acc.TokenExpiresAt,
		TimeToExpiry:    int64(token.TimeToExpiry(acc.TokenExpiresAt, now).Seconds()),
		HasRefreshToken: acc.RefreshToken != "",
		HasOwnOAuthApp:  acc.ClientID != "" && acc.ClientSecret != "",
		LastSyncStatus:  string(acc.LastSyncStatus),
		LastSyncError:   acc.LastSyncError,
		LastSyncAt:      acc.LastSyncAt,
		ErrorCount:      acc.ErrorCount,
		ErrorHistory:    acc.ErrorHistory,
		DisconnectedAt:  acc.DisconnectedAt,
		CreatedAt:       acc.CreatedAt,
	}
}

// AccountsAPIHandler handles GET /api/accounts
func AccountsAPIHandler(store db.AccountStore, eval token.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		accounts, err := store.ListAccounts(r.Context(), ownerID)
		if err != nil {
			writeLifecycleError(w, r, err)
			return
		}

		now := time.Now()
		views := make([]AccountView, 0, len(accounts))
		for i := range accounts {
			views = append(views, NewAccountView(&accounts[i], eval, now))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": views,
			"count":    len(views),
		})
	}
}

// AccountHandler handles GET /api/accounts/{accountId}. It reports token state
// without refreshing anything.
func AccountHandler(store db.AccountStore, eval token.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		acc, err := store.FindAccount(r.Context(), chi.URLParam(r, middleware.AccountParam), ownerID)
		if err != nil {
			writeLifecycleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAccountView(acc, eval, time.Now()))
	}
}

type connectRequest struct {
	AccountID    string `json:"accountId"`
	Nickname     string `json:"nickname"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// ConnectAccountHandler handles POST /api/accounts. The body carries the token
// triple obtained by the OAuth authorization-code exchange.
func ConnectAccountHandler(mgr *token.Manager, eval token.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body", "INVALID_REQUEST")
			return
		}

		acc, err := mgr.Connect(r.Context(), token.ConnectRequest{
			AccountID:    req.AccountID,
			OwnerID:      middleware.OwnerIDFromContext(r.Context()),
			AccessToken:  req.AccessToken,
			ExpiresIn:    time.Duration(req.ExpiresIn) * time.Second,
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			Nickname:     req.Nickname,
			RefreshToken: req.RefreshToken,
		})
		if err != nil {
			if isValidationError(err) {
				writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
				return
			}
			writeLifecycleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, NewAccountView(acc, eval, time.Now()))
	}
}

// PauseAccountHandler handles POST /api/accounts/{accountId}/pause
func PauseAccountHandler(mgr *token.Manager, eval token.Evaluator) http.HandlerFunc {
	return accountOpHandler(mgr.Pause, eval)
}

// ResumeAccountHandler handles POST /api/accounts/{accountId}/resume
func ResumeAccountHandler(mgr *token.Manager, eval token.Evaluator) http.HandlerFunc {
	return accountOpHandler(mgr.Resume, eval)
}

// DisconnectAccountHandler handles POST /api/accounts/{accountId}/disconnect
func DisconnectAccountHandler(mgr *token.Manager, eval token.Evaluator) http.HandlerFunc {
	return accountOpHandler(mgr.Disconnect, eval)
}

// RefreshAccountHandler handles POST /api/accounts/{accountId}/refresh
func RefreshAccountHandler(mgr *token.Manager, eval token.Evaluator) http.HandlerFunc {
	return accountOpHandler(mgr.ForceRefresh, eval)
}

type accountOp func(ctx context.Context, accountID, ownerID string) (*models.Account, error)

func accountOpHandler(op accountOp, eval token.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := op(r.Context(), chi.URLParam(r, middleware.AccountParam), middleware.OwnerIDFromContext(r.Context()))
		if err != nil {
			writeLifecycleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAccountView(acc, eval, time.Now()))
	}
}

func isValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
