package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is assumed when the token endpoint omits expires_in.
// Marketplace access tokens are issued for six hours.
const DefaultTokenLifetime = 6 * time.Hour

// RefreshResult is a freshly issued token triple.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// RefreshRejectedError is a clean non-success answer from the token endpoint.
type RefreshRejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RefreshRejectedError) Error() string {
	return fmt.Sprintf("token refresh rejected (%d): %s", e.StatusCode, e.Reason)
}

// RefreshTransportError means the refresh call itself failed: network fault,
// unreadable or malformed response.
type RefreshTransportError struct {
	Err error
}

func (e *RefreshTransportError) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

func (e *RefreshTransportError) Unwrap() error { return e.Err }

// Refresher exchanges a refresh token for a new token triple. Implementations
// perform one round-trip, never retry and never persist anything.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string, creds OAuthCredentials) (*RefreshResult, error)
}

// OAuthRefresher talks to the marketplace token endpoint.
type OAuthRefresher struct {
	TokenURL   string
	HTTPClient *http.Client
	now        func() time.Time
}

var _ Refresher = (*OAuthRefresher)(nil)

// NewOAuthRefresher creates a refresher for tokenURL.
func NewOAuthRefresher(tokenURL string, timeout time.Duration) *OAuthRefresher {
	return &OAuthRefresher{
		TokenURL:   tokenURL,
		HTTPClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Refresh posts grant_type=refresh_token with the client id and secret in the form body.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string, creds OAuthCredentials) (*RefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	// An empty access token forces the source to hit the endpoint exactly once.
	newToken, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, rejected(retrieveErr)
		}
		return nil, &RefreshTransportError{Err: err}
	}

	result := &RefreshResult{
		AccessToken:  newToken.AccessToken,
		RefreshToken: newToken.RefreshToken,
		ExpiresIn:    r.expiresIn(newToken),
	}
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

func (r *OAuthRefresher) expiresIn(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if !tok.Expiry.IsZero() {
		now := time.Now
		if r.now != nil {
			now = r.now
		}
		if d := tok.Expiry.Sub(now()).Round(time.Second); d > 0 {
			return d
		}
	}
	return DefaultTokenLifetime
}

func rejected(retrieveErr *oauth2.RetrieveError) *RefreshRejectedError {
	out := &RefreshRejectedError{StatusCode: http.StatusBadRequest}
	if retrieveErr.Response != nil {
		out.StatusCode = retrieveErr.Response.StatusCode
	}

	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(retrieveErr.Body, &body)

	switch {
	case strings.TrimSpace(body.Message) != "":
		out.Reason = body.Message
	case retrieveErr.ErrorDescription != "":
		out.Reason = retrieveErr.ErrorDescription
	case retrieveErr.ErrorCode != "":
		out.Reason = retrieveErr.ErrorCode
	default:
		out.Reason = http.StatusText(out.StatusCode)
	}
	return out
}
