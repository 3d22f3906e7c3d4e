package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/pysugar/sellerops/internal/version"
	"golang.org/x/oauth2"
)

const (
	// maxResponseSize caps how much of an upstream body is read (10MB).
	maxResponseSize = 10 * 1024 * 1024

	defaultTimeout = 30 * time.Second
)

// Client is a marketplace API client bound to one seller account's access token.
type Client struct {
	accountID  string
	baseURL    string
	httpClient *http.Client
	createdAt  time.Time
}

// ClientFactory builds a Client from an account record. It is the only place
// an access token leaves the credential record.
type ClientFactory func(acc *models.Account) (*Client, error)

// NewClient creates a client that sends "Authorization: Bearer <accessToken>".
func NewClient(baseURL, accountID, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = timeout

	return &Client{
		accountID:  accountID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		createdAt:  time.Now(),
	}
}

// NewClientFactory returns a factory producing clients for baseURL.
func NewClientFactory(baseURL string, timeout time.Duration) ClientFactory {
	return func(acc *models.Account) (*Client, error) {
		if acc.AccessToken == "" {
			return nil, fmt.Errorf("account %s has no access token", acc.AccountID)
		}
		return NewClient(baseURL, acc.AccountID, acc.AccessToken, timeout), nil
	}
}

// AccountID is the seller account this client acts for.
func (c *Client) AccountID() string { return c.accountID }

// CreatedAt is when the client was built.
func (c *Client) CreatedAt() time.Time { return c.createdAt }

// GetJSON performs an authenticated GET and decodes the body into out.
// Non-2xx answers come back as *APIError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
		apiErr.Code = payload.Error
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = ParseRetryAfter(resp.Header, time.Now())
	}
	return apiErr
}

// GetMe returns the seller profile the token belongs to.
func (c *Client) GetMe(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.GetJSON(ctx, "/users/me", nil, &out)
	return out, err
}

// GetOrder fetches a single order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.getResource(ctx, "/orders/", orderID)
}

// SearchOrders lists the seller's orders; query is passed through (status, offset, limit...).
func (c *Client) SearchOrders(ctx context.Context, query url.Values) (json.RawMessage, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("seller", c.accountID)

	var out json.RawMessage
	err := c.GetJSON(ctx, "/orders/search", q, &out)
	return out, err
}

// GetItem fetches a listing.
func (c *Client) GetItem(ctx context.Context, itemID string) (json.RawMessage, error) {
	return c.getResource(ctx, "/items/", itemID)
}

// GetClaim fetches a post-purchase claim.
func (c *Client) GetClaim(ctx context.Context, claimID string) (json.RawMessage, error) {
	return c.getResource(ctx, "/post-purchase/v1/claims/", claimID)
}

// GetShipment fetches a shipment.
func (c *Client) GetShipment(ctx context.Context, shipmentID string) (json.RawMessage, error) {
	return c.getResource(ctx, "/shipments/", shipmentID)
}

// GetPayment fetches a payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.getResource(ctx, "/v1/payments/", paymentID)
}

func (c *Client) getResource(ctx context.Context, prefix, id string) (json.RawMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty id for %s", prefix)
	}
	var out json.RawMessage
	err := c.GetJSON(ctx, prefix+url.PathEscape(id), nil, &out)
	return out, err
}
