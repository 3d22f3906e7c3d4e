package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pysugar/sellerops/internal/db"
	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/pysugar/sellerops/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrAccountDisconnected is returned by lifecycle operations on an abandoned account.
	ErrAccountDisconnected = db.ErrAccountDisconnected
	// ErrAccountOwnedElsewhere is returned when connecting an account another owner holds.
	ErrAccountOwnedElsewhere = errors.New("account is connected by another owner")
)

// CacheInvalidator is the part of the client cache credential writers need.
type CacheInvalidator interface {
	Invalidate(accountID string)
}

// Manager handles the account credential lifecycle: freshness checks,
// transparent refresh, status transitions and background refresh.
type Manager struct {
	store     db.AccountStore
	resolver  CredentialResolver
	refresher Refresher
	cache     CacheInvalidator
	evaluator Evaluator
	now       func() time.Time
	logger    *zap.Logger
	validate  *validator.Validate

	// refreshes collapses concurrent refreshes of the same account.
	refreshes singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithRefreshWindow sets the lead time before expiry at which tokens are refreshed.
func WithRefreshWindow(d time.Duration) Option {
	return func(m *Manager) { m.evaluator.RefreshWindow = d }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used outside request scope (background refresh).
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a new token manager.
func NewManager(store db.AccountStore, resolver CredentialResolver, refresher Refresher, cache CacheInvalidator, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		resolver:  resolver,
		refresher: refresher,
		cache:     cache,
		evaluator: Evaluator{RefreshWindow: DefaultRefreshWindow},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    zap.NewNop(),
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureFresh is the request-time guard. It returns the owner's account with a
// usable access token, refreshing it first when it is about to expire. Failures
// are *GuardError.
func (m *Manager) EnsureFresh(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	logger := logging.FromContext(ctx).With(zap.String("account_id", accountID))

	acc, err := m.lookup(ctx, accountID, ownerID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	ttl := TimeToExpiry(acc.TokenExpiresAt, now)

	switch m.evaluator.Classify(acc.TokenExpiresAt, now) {
	case FreshnessValid:
		return acc, nil

	case FreshnessCriticallyExpired:
		logger.Info("access token expired, reconnection required", zap.Duration("time_to_expiry", ttl))
		m.markExpired(ctx, acc)
		return nil, errUnauthorized(CodeTokenExpired,
			"Access token has expired, please reconnect the account", ttl, nil)

	default:
		if acc.RefreshToken == "" {
			return nil, errUnauthorized(CodeTokenAboutToExpireNoRefresh,
				"Access token is about to expire and the account has no refresh token", ttl, nil)
		}
		logger.Info("access token nearing expiry, refreshing", zap.Duration("time_to_expiry", ttl))
		return m.refresh(ctx, acc, ttl)
	}
}

// ForceRefresh refreshes the token now, whatever its remaining lifetime, as
// long as it has not expired yet.
func (m *Manager) ForceRefresh(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	acc, err := m.lookup(ctx, accountID, ownerID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	ttl := TimeToExpiry(acc.TokenExpiresAt, now)
	if m.evaluator.Classify(acc.TokenExpiresAt, now) == FreshnessCriticallyExpired {
		return nil, errUnauthorized(CodeTokenExpired,
			"Access token has expired, please reconnect the account", ttl, nil)
	}
	if acc.RefreshToken == "" {
		return nil, errUnauthorized(CodeTokenAboutToExpireNoRefresh,
			"Account has no refresh token", ttl, nil)
	}
	return m.refresh(ctx, acc, ttl)
}

func (m *Manager) lookup(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	acc, err := m.store.FindAccount(ctx, accountID, ownerID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, errAccountNotFound(err)
		}
		logging.FromContext(ctx).Error("load account for token validation",
			zap.String("account_id", accountID), zap.Error(err))
		return nil, errValidationFailed(err)
	}
	// Disconnected accounts are never refreshed and never served.
	if acc.IsDisconnected() {
		return nil, errAccountNotFound(ErrAccountDisconnected)
	}
	return acc, nil
}

func (m *Manager) refresh(ctx context.Context, acc *models.Account, ttl time.Duration) (*models.Account, error) {
	creds, err := m.resolver.Resolve(acc)
	if err != nil {
		return nil, errUnauthorized(CodeNoOAuthCredentials,
			"No OAuth client credentials available to refresh the token", ttl, err)
	}

	// A finished refresh is persisted even if the requester went away.
	detached := context.WithoutCancel(ctx)
	v, err, shared := m.refreshes.Do(acc.AccountID, func() (any, error) {
		return m.doRefresh(detached, acc, creds, ttl)
	})
	if shared {
		logging.FromContext(ctx).Debug("joined in-flight token refresh", zap.String("account_id", acc.AccountID))
	}
	if err != nil {
		return nil, err
	}
	refreshed := *v.(*models.Account)
	return &refreshed, nil
}

func (m *Manager) doRefresh(ctx context.Context, acc *models.Account, creds OAuthCredentials, ttl time.Duration) (*models.Account, error) {
	logger := logging.FromContext(ctx).With(zap.String("account_id", acc.AccountID))

	result, err := m.refresher.Refresh(ctx, acc.RefreshToken, creds)
	now := m.now()
	if err != nil {
		code := CodeTokenRefreshError
		msg := err.Error()
		statusCode := 0
		var rejected *RefreshRejectedError
		if errors.As(err, &rejected) {
			code = CodeTokenRefreshFailed
			msg = rejected.Reason
			statusCode = rejected.StatusCode
		}
		logger.Warn("token refresh failed", zap.String("code", string(code)), zap.String("reason", msg))

		entry := models.ErrorEntry{Timestamp: now, Error: msg, StatusCode: statusCode}
		if saveErr := m.store.RecordRefreshFailure(ctx, acc.AccountID, entry); saveErr != nil {
			logger.Error("persist failed refresh", zap.Error(saveErr))
		}
		return nil, errUnauthorized(code, "Token refresh failed: "+msg+", please reconnect the account", ttl, err)
	}

	saved, err := m.store.SaveTokens(ctx, acc.AccountID, db.TokenUpdate{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		At:           now,
	})
	switch {
	case errors.Is(err, db.ErrAccountDisconnected), errors.Is(err, db.ErrAccountNotFound):
		// Disconnected while the refresh was in flight; the new pair is dropped.
		logger.Info("discarded refreshed token of disconnected account")
		return nil, errAccountNotFound(err)
	case err != nil:
		logger.Error("persist refreshed token", zap.Error(err))
		return nil, errValidationFailed(err)
	}
	m.cache.Invalidate(saved.AccountID)

	logger.Info("refreshed access token",
		zap.Time("expires_at", saved.TokenExpiresAt),
		zap.Bool("refresh_token_rotated", result.RefreshToken != "" && result.RefreshToken != acc.RefreshToken),
		zap.String("access_token", logging.MaskToken(saved.AccessToken)),
	)
	return saved, nil
}

// markExpired records that the token lapsed; best-effort.
func (m *Manager) markExpired(ctx context.Context, acc *models.Account) {
	if acc.Status != models.StatusActive {
		return
	}
	if err := m.store.MarkExpired(context.WithoutCancel(ctx), acc.AccountID); err != nil {
		logging.FromContext(ctx).Warn("mark account expired", zap.String("account_id", acc.AccountID), zap.Error(err))
	}
}

// ConnectRequest carries the result of an OAuth code exchange done elsewhere.
type ConnectRequest struct {
	AccountID    string        `validate:"required"`
	OwnerID      string        `validate:"required"`
	AccessToken  string        `validate:"required"`
	ExpiresIn    time.Duration `validate:"gt=0"`
	ClientID     string        `validate:"required_with=ClientSecret"`
	ClientSecret string        `validate:"required_with=ClientID"`
	Nickname     string
	RefreshToken string
}

// Connect stores a newly authorized token triple, creating the account or
// reviving a disconnected one.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*models.Account, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid connect request: %w", err)
	}

	acc, err := m.store.GetAccount(ctx, req.AccountID)
	switch {
	case errors.Is(err, db.ErrAccountNotFound):
		acc = &models.Account{AccountID: req.AccountID, OwnerID: req.OwnerID}
	case err != nil:
		return nil, err
	case acc.OwnerID != req.OwnerID && !acc.IsDisconnected():
		return nil, ErrAccountOwnedElsewhere
	}

	now := m.now()
	acc.OwnerID = req.OwnerID
	if req.Nickname != "" {
		acc.Nickname = req.Nickname
	}
	acc.ClientID = req.ClientID
	acc.ClientSecret = req.ClientSecret
	acc.DisconnectedAt = nil
	acc.Status = models.StatusActive
	acc.RefreshToken = ""
	acc.MarkRefreshed(now, req.AccessToken, req.RefreshToken, req.ExpiresIn)

	if err := m.store.SaveAccount(ctx, acc); err != nil {
		return nil, err
	}
	m.cache.Invalidate(acc.AccountID)
	logging.FromContext(ctx).Info("account connected",
		zap.String("account_id", acc.AccountID),
		zap.String("owner_id", acc.OwnerID),
		zap.Time("expires_at", acc.TokenExpiresAt))
	return acc, nil
}

// Pause stops background refreshes for the account.
func (m *Manager) Pause(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	return m.transition(ctx, accountID, ownerID, false, func(acc *models.Account, _ time.Time) {
		acc.Pause()
	})
}

// Resume re-enables a paused account.
func (m *Manager) Resume(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	return m.transition(ctx, accountID, ownerID, false, func(acc *models.Account, now time.Time) {
		acc.Resume(now)
	})
}

// Disconnect abandons the account. The record is kept, its tokens are dropped
// and its cached client is evicted.
func (m *Manager) Disconnect(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	return m.transition(ctx, accountID, ownerID, true, func(acc *models.Account, now time.Time) {
		acc.Disconnect(now)
	})
}

func (m *Manager) transition(ctx context.Context, accountID, ownerID string, invalidate bool, apply func(*models.Account, time.Time)) (*models.Account, error) {
	now := m.now()
	acc, err := m.store.ChangeStatus(ctx, accountID, ownerID, func(acc *models.Account) {
		apply(acc, now)
	})
	if err != nil {
		return nil, err
	}
	if invalidate {
		m.cache.Invalidate(acc.AccountID)
	}
	logging.FromContext(ctx).Info("account status changed",
		zap.String("account_id", acc.AccountID), zap.String("status", string(acc.Status)))
	return acc, nil
}

// StartRefreshLoop refreshes accounts nearing expiry every interval until ctx is done.
func (m *Manager) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RefreshExpiring(ctx)
			}
		}
	}()
	m.logger.Info("token refresh loop started", zap.Duration("interval", interval))
}

// RefreshExpiring refreshes every active account whose token is nearing expiry
// and returns how many were refreshed. Expired tokens are left alone.
func (m *Manager) RefreshExpiring(ctx context.Context) int {
	ctx = logging.WithContext(ctx, m.logger)
	now := m.now()
	window := m.evaluator.RefreshWindow
	if window <= 0 {
		window = DefaultRefreshWindow
	}

	// A token expiring exactly now is already expired.
	accounts, err := m.store.ListRefreshCandidates(ctx, now.Add(time.Nanosecond), now.Add(window+time.Nanosecond))
	if err != nil {
		m.logger.Error("list accounts to refresh", zap.Error(err))
		return 0
	}

	refreshed := 0
	for i := range accounts {
		acc := &accounts[i]
		if !acc.CanAutoRefresh() || m.evaluator.Classify(acc.TokenExpiresAt, now) != FreshnessNearingExpiry {
			continue
		}
		if _, err := m.refresh(ctx, acc, TimeToExpiry(acc.TokenExpiresAt, now)); err != nil {
			m.logger.Warn("background refresh failed", zap.String("account_id", acc.AccountID), zap.Error(err))
			continue
		}
		refreshed++
	}
	if len(accounts) > 0 {
		m.logger.Info("background refresh done", zap.Int("candidates", len(accounts)), zap.Int("refreshed", refreshed))
	}
	return refreshed
}
