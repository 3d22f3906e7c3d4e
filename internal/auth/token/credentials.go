package token

import (
	"errors"

	"github.com/pysugar/sellerops/internal/db/models"
)

// ErrNoCredentials means neither the account nor the process has an OAuth app configured.
var ErrNoCredentials = errors.New("no oauth client credentials configured")

// OAuthCredentials is an OAuth app registration (client id and secret).
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

func (c OAuthCredentials) complete() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// CredentialResolver picks the OAuth app used to refresh an account's token.
type CredentialResolver interface {
	Resolve(acc *models.Account) (OAuthCredentials, error)
}

// CredentialChain prefers the account's own app registration and falls back to
// the process-wide default. A half-configured pair on either level is ignored.
type CredentialChain struct {
	Default OAuthCredentials
}

var _ CredentialResolver = CredentialChain{}

func (c CredentialChain) Resolve(acc *models.Account) (OAuthCredentials, error) {
	if acc != nil {
		own := OAuthCredentials{ClientID: acc.ClientID, ClientSecret: acc.ClientSecret}
		if own.complete() {
			return own, nil
		}
	}
	if c.Default.complete() {
		return c.Default, nil
	}
	return OAuthCredentials{}, ErrNoCredentials
}
