package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/pysugar/sellerops/internal/db"
	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/pysugar/sellerops/internal/logging"
	"go.uber.org/zap"
)

// Executor runs operations against the marketplace API with a cached,
// per-account client. It does not judge token freshness; the request guard
// has done that before any route reaches here.
type Executor struct {
	store   db.AccountStore
	cache   *ClientCache
	factory ClientFactory
	now     func() time.Time
}

// NewExecutor wires an executor.
func NewExecutor(store db.AccountStore, cache *ClientCache, factory ClientFactory) *Executor {
	return &Executor{
		store:   store,
		cache:   cache,
		factory: factory,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Cache exposes the client cache so credential writers can invalidate it.
func (e *Executor) Cache() *ClientCache { return e.cache }

// Client returns the cached client for accountID, building and caching one on a miss.
func (e *Executor) Client(ctx context.Context, accountID string) (*Client, error) {
	client, ticket, ok := e.cache.Lookup(accountID)
	if ok {
		return client, nil
	}

	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, &NormalizedError{Type: ErrNotFound, Message: "account not found", cause: err}
		}
		logging.FromContext(ctx).Error("load account for upstream client",
			zap.String("account_id", accountID), zap.Error(err))
		return nil, internalError("failed to load account", err)
	}
	if acc.IsDisconnected() {
		return nil, &NormalizedError{Type: ErrAuthentication, Message: "account is disconnected"}
	}
	client, err = e.factory(acc)
	if err != nil {
		return nil, internalError("failed to build upstream client", err)
	}
	if !e.cache.PutIfCurrent(accountID, client, ticket) {
		// Credentials changed while building; use the client once, do not cache it.
		logging.FromContext(ctx).Debug("skipped caching stale upstream client",
			zap.String("account_id", accountID))
	}
	return client, nil
}

// Do runs op with the account's client. Any failure is returned as *NormalizedError.
func (e *Executor) Do(ctx context.Context, accountID string, op func(context.Context, *Client) error) error {
	_, err := Execute(ctx, e, accountID, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, op(ctx, c)
	})
	return err
}

// Execute runs op with the account's client and returns its result. Any failure
// is returned as *NormalizedError; upstream failures are also recorded in the
// account's error history.
func Execute[T any](ctx context.Context, e *Executor, accountID string, op func(context.Context, *Client) (T, error)) (T, error) {
	var zero T
	client, err := e.Client(ctx, accountID)
	if err != nil {
		return zero, err
	}

	result, err := op(ctx, client)
	if err == nil {
		return result, nil
	}

	normalized := Normalize(err)
	if normalized.Type == ErrAuthentication {
		// Token rejected at call time; make the next request rebuild the client.
		e.cache.Invalidate(accountID)
	}
	e.recordFailure(ctx, accountID, normalized)
	return zero, normalized
}

func (e *Executor) recordFailure(ctx context.Context, accountID string, nerr *NormalizedError) {
	logger := logging.FromContext(ctx).With(
		zap.String("account_id", accountID),
		zap.String("error_type", string(nerr.Type)),
		zap.Int("status_code", nerr.StatusCode),
	)
	logger.Warn("upstream call failed", zap.String("error", nerr.Message))

	// Recording outlives the request.
	entry := models.ErrorEntry{Timestamp: e.now(), Error: nerr.Message, StatusCode: nerr.StatusCode}
	err := e.store.AppendError(context.WithoutCancel(ctx), accountID, entry)
	switch {
	case errors.Is(err, db.ErrAccountDisconnected), errors.Is(err, db.ErrAccountNotFound):
		logger.Debug("account gone, upstream failure not recorded")
	case err != nil:
		logger.Error("record upstream failure", zap.Error(err))
	}
}
