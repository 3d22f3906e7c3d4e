package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	ownerIDKey contextKey = "ownerId"
	accountKey contextKey = "account"
)

// OwnerClaims are the platform-user claims issued by the dashboard login.
type OwnerClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// OwnerTokens signs and verifies platform-user JWTs (HS256).
type OwnerTokens struct {
	secret []byte
	issuer string
}

// NewOwnerTokens creates a verifier for tokens signed with secret.
func NewOwnerTokens(secret, issuer string) *OwnerTokens {
	return &OwnerTokens{secret: []byte(secret), issuer: issuer}
}

// Issue creates a token for ownerID, used by tooling and tests.
func (t *OwnerTokens) Issue(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates raw and returns the owner id (subject).
func (t *OwnerTokens) Parse(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	var claims OwnerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// OwnerAuth validates the platform-user JWT from the Authorization header and
// stores the owner id in the request context.
func OwnerAuth(tokens *OwnerTokens) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeError(w, http.StatusUnauthorized, errorBody{Error: "Missing bearer token", Code: "UNAUTHENTICATED"})
				return
			}

			ownerID, err := tokens.Parse(strings.TrimSpace(raw))
			if err != nil {
				code := "INVALID_TOKEN"
				if errors.Is(err, jwt.ErrTokenExpired) {
					code = "SESSION_EXPIRED"
				}
				writeError(w, http.StatusUnauthorized, errorBody{Error: "Invalid session token", Code: code})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
		})
	}
}

// WithOwnerID stores the authenticated owner id in ctx.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerIDFromContext returns the authenticated owner id, or "".
func OwnerIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ownerIDKey).(string); ok {
		return id
	}
	return ""
}
