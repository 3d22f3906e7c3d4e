package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/sellerops/internal/proxy/middleware"
	"github.com/pysugar/sellerops/internal/upstream"
)

// ResourceParam is the chi URL parameter carrying the upstream resource id.
const ResourceParam = "id"

// fetchFunc reads one marketplace resource for the request.
type fetchFunc func(ctx context.Context, c *upstream.Client, r *http.Request) (json.RawMessage, error)

// UpstreamHandler proxies a marketplace read for the account attached by
// middleware.AccountGuard. Failures are rendered from the normalized taxonomy.
func UpstreamHandler(exec *upstream.Executor, fetch fetchFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, ok := middleware.AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "Account not resolved", "")
			return
		}

		body, err := upstream.Execute(r.Context(), exec, acc.AccountID,
			func(ctx context.Context, c *upstream.Client) (json.RawMessage, error) {
				return fetch(ctx, c, r)
			})
		if err != nil {
			writeUpstreamError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

// MeHandler handles GET /api/accounts/{accountId}/me
func MeHandler(exec *upstream.Executor) http.HandlerFunc {
	return UpstreamHandler(exec, func(ctx context.Context, c *upstream.Client, _ *http.Request) (json.RawMessage, error) {
		return c.GetMe(ctx)
	})
}

// SearchOrdersHandler handles GET /api/accounts/{accountId}/orders
func SearchOrdersHandler(exec *upstream.Executor) http.HandlerFunc {
	return UpstreamHandler(exec, func(ctx context.Context, c *upstream.Client, r *http.Request) (json.RawMessage, error) {
		return c.SearchOrders(ctx, r.URL.Query())
	})
}

// OrderHandler handles GET /api/accounts/{accountId}/orders/{id}
func OrderHandler(exec *upstream.Executor) http.HandlerFunc {
	return byID(exec, (*upstream.Client).GetOrder)
}

// ItemHandler handles GET /api/accounts/{accountId}/items/{id}
func ItemHandler(exec *upstream.Executor) http.HandlerFunc {
	return byID(exec, (*upstream.Client).GetItem)
}

// ClaimHandler handles GET /api/accounts/{accountId}/claims/{id}
func ClaimHandler(exec *upstream.Executor) http.HandlerFunc {
	return byID(exec, (*upstream.Client).GetClaim)
}

// ShipmentHandler handles GET /api/accounts/{accountId}/shipments/{id}
func ShipmentHandler(exec *upstream.Executor) http.HandlerFunc {
	return byID(exec, (*upstream.Client).GetShipment)
}

// PaymentHandler handles GET /api/accounts/{accountId}/payments/{id}
func PaymentHandler(exec *upstream.Executor) http.HandlerFunc {
	return byID(exec, (*upstream.Client).GetPayment)
}

func byID(exec *upstream.Executor, get func(*upstream.Client, context.Context, string) (json.RawMessage, error)) http.HandlerFunc {
	return UpstreamHandler(exec, func(ctx context.Context, c *upstream.Client, r *http.Request) (json.RawMessage, error) {
		return get(c, ctx, chi.URLParam(r, ResourceParam))
	})
}
