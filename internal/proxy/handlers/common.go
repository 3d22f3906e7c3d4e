package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pysugar/sellerops/internal/auth/token"
	"github.com/pysugar/sellerops/internal/db"
	"github.com/pysugar/sellerops/internal/logging"
	"github.com/pysugar/sellerops/internal/proxy/middleware"
	"github.com/pysugar/sellerops/internal/upstream"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

// writeUpstreamError renders a normalized upstream failure.
func writeUpstreamError(w http.ResponseWriter, err error) {
	nerr := upstream.Normalize(err)
	if nerr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(nerr.RetryAfter.Seconds())))
	}
	body := map[string]any{
		"error": nerr.Message,
		"code":  string(nerr.Type),
	}
	if nerr.StatusCode != 0 {
		body["upstreamStatus"] = nerr.StatusCode
	}
	writeJSON(w, nerr.HTTPStatus(), body)
}

// writeLifecycleError renders failures of account lifecycle operations.
func writeLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *token.GuardError
	switch {
	case errors.As(err, &gerr):
		middleware.WriteGuardError(w, r, gerr)
	case errors.Is(err, db.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "Account not found", string(token.CodeAccountNotFound))
	case errors.Is(err, token.ErrAccountDisconnected):
		writeError(w, http.StatusConflict, "Account is disconnected", "ACCOUNT_DISCONNECTED")
	case errors.Is(err, token.ErrAccountOwnedElsewhere):
		writeError(w, http.StatusConflict, "Account is connected by another user", "ACCOUNT_OWNED_ELSEWHERE")
	default:
		logging.FromContext(r.Context()).Error("account operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", "")
	}
}
