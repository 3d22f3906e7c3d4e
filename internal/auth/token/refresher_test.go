package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = OAuthCredentials{ClientID: "app-id", ClientSecret: "app-secret"}

func tokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "app-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "app-secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthRefresher_Success(t *testing.T) {
	srv := tokenServer(t, http.StatusOK,
		`{"access_token":"access-2","token_type":"bearer","expires_in":21600,"refresh_token":"refresh-2","user_id":123}`)

	result, err := NewOAuthRefresher(srv.URL, 5*time.Second).Refresh(context.Background(), "refresh-1", testCreds)
	require.NoError(t, err)

	assert.Equal(t, "access-2", result.AccessToken)
	assert.Equal(t, "refresh-2", result.RefreshToken)
	assert.InDelta(t, float64(6*time.Hour), float64(result.ExpiresIn), float64(2*time.Second))
}

func TestOAuthRefresher_DefaultsWhenFieldsMissing(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{"access_token":"access-2","token_type":"bearer"}`)

	result, err := NewOAuthRefresher(srv.URL, 5*time.Second).Refresh(context.Background(), "refresh-1", testCreds)
	require.NoError(t, err)

	assert.Equal(t, "refresh-1", result.RefreshToken, "refresh token is reused when not rotated")
	assert.Equal(t, DefaultTokenLifetime, result.ExpiresIn)
}

func TestOAuthRefresher_Rejected(t *testing.T) {
	srv := tokenServer(t, http.StatusBadRequest,
		`{"message":"Error validating grant. Your authorization code or refresh token may be expired or it was already used","error":"invalid_grant","status":400}`)

	_, err := NewOAuthRefresher(srv.URL, 5*time.Second).Refresh(context.Background(), "refresh-1", testCreds)
	require.Error(t, err)

	var rejected *RefreshRejectedError
	require.True(t, errors.As(err, &rejected), "got %T: %v", err, err)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Contains(t, rejected.Reason, "Error validating grant")
}

func TestOAuthRefresher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOAuthRefresher(url, time.Second).Refresh(context.Background(), "refresh-1", testCreds)
	require.Error(t, err)

	var transport *RefreshTransportError
	assert.True(t, errors.As(err, &transport), "got %T: %v", err, err)
}

func TestOAuthRefresher_MalformedSuccess(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{"token_type":"bearer"}`)

	_, err := NewOAuthRefresher(srv.URL, time.Second).Refresh(context.Background(), "refresh-1", testCreds)
	require.Error(t, err)

	var transport *RefreshTransportError
	assert.True(t, errors.As(err, &transport), "missing access_token is a transport fault, got %T", err)
}
