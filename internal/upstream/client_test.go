package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/pysugar/sellerops/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-100", r.Header.Get("Authorization"))
		assert.Equal(t, version.UserAgent(), r.Header.Get("User-Agent"))
		assert.Equal(t, "/users/me", r.URL.Path)
		w.Write([]byte(`{"id":100,"nickname":"SHOP"}`))
	}))
	defer srv.Close()

	me, err := NewClient(srv.URL+"/", "100", "access-100", time.Second).GetMe(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":100,"nickname":"SHOP"}`, string(me))
}

func TestClient_SearchOrdersScopesToSeller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/search", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("seller"))
		assert.Equal(t, "paid", r.URL.Query().Get("order.status"))
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	query := url.Values{"order.status": {"paid"}, "seller": {"someone-else"}}
	_, err := NewClient(srv.URL, "100", "access-100", time.Second).SearchOrders(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", query.Get("seller"), "caller's query is not modified")
}

func TestClient_ResourcePaths(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "100", "access-100", time.Second)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{name: "order", want: "/orders/2000001", call: func() error { _, err := c.GetOrder(ctx, "2000001"); return err }},
		{name: "item", want: "/items/MLA123", call: func() error { _, err := c.GetItem(ctx, "MLA123"); return err }},
		{name: "claim", want: "/post-purchase/v1/claims/55", call: func() error { _, err := c.GetClaim(ctx, "55"); return err }},
		{name: "shipment", want: "/shipments/42", call: func() error { _, err := c.GetShipment(ctx, "42"); return err }},
		{name: "payment", want: "/v1/payments/9", call: func() error { _, err := c.GetPayment(ctx, "9"); return err }},
		{name: "escaped", want: "/items/a%2Fb", call: func() error { _, err := c.GetItem(ctx, "a/b"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())
			assert.Equal(t, tt.want, gotPath)
		})
	}

	_, err := c.GetOrder(ctx, " ")
	assert.Error(t, err)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"Too many requests","error":"too_many_requests","status":429}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "100", "access-100", time.Second).GetOrder(context.Background(), "1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %T: %v", err, err)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "Too many requests", apiErr.Message)
	assert.Equal(t, "too_many_requests", apiErr.Code)
	assert.Equal(t, 12*time.Second, apiErr.RetryAfter)
}

func TestClientFactory(t *testing.T) {
	factory := NewClientFactory("https://api.example.test", time.Second)

	_, err := factory(&models.Account{AccountID: "100"})
	assert.Error(t, err)

	c, err := factory(&models.Account{AccountID: "100", AccessToken: "access-100"})
	require.NoError(t, err)
	assert.Equal(t, "100", c.AccountID())
	assert.False(t, c.CreatedAt().IsZero())
}
