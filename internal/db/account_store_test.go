package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, store *GormAccountStore, id, owner string, expiresIn time.Duration) *models.Account {
	t.Helper()
	acc := &models.Account{
		AccountID:      id,
		OwnerID:        owner,
		AccessToken:    "access-" + id,
		RefreshToken:   "refresh-" + id,
		TokenExpiresAt: storeNow.Add(expiresIn),
		Status:         models.StatusActive,
	}
	require.NoError(t, store.SaveAccount(context.Background(), acc))
	return acc
}

func TestAccountStore_FindScopesToOwner(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "100", "owner-1", time.Hour)

	acc, err := store.FindAccount(ctx, "100", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "access-100", acc.AccessToken)
	assert.True(t, acc.TokenExpiresAt.Equal(storeNow.Add(time.Hour)))

	_, err = store.FindAccount(ctx, "100", "owner-2")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = store.GetAccount(ctx, "404")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	acc, err = store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", acc.OwnerID)
}

func TestAccountStore_SaveUpserts(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	acc := seedAccount(t, store, "100", "owner-1", time.Hour)

	acc.MarkRefreshFailed(storeNow, "invalid_grant", 400)
	acc.MarkRefreshFailed(storeNow.Add(time.Second), "invalid_grant", 400)
	require.NoError(t, store.SaveAccount(ctx, acc))

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.SyncFailed, got.LastSyncStatus)
	assert.Equal(t, 2, got.ErrorCount)
	require.Len(t, got.ErrorHistory, 2)
	assert.Equal(t, 400, got.ErrorHistory[1].StatusCode)

	acc.MarkRefreshed(storeNow, "access-new", "", 6*time.Hour)
	require.NoError(t, store.SaveAccount(ctx, acc))

	got, err = store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "access-new", got.AccessToken)
	assert.Equal(t, "refresh-100", got.RefreshToken)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Empty(t, got.LastSyncError)

	accounts, err := store.ListAccounts(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestAccountStore_ListRefreshCandidates(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()

	seedAccount(t, store, "nearing", "owner-1", 2*time.Minute)
	seedAccount(t, store, "valid", "owner-1", time.Hour)
	seedAccount(t, store, "expired", "owner-1", -time.Minute)

	paused := seedAccount(t, store, "paused", "owner-1", 2*time.Minute)
	paused.Pause()
	require.NoError(t, store.SaveAccount(ctx, paused))

	gone := seedAccount(t, store, "gone", "owner-2", 2*time.Minute)
	gone.Disconnect(storeNow)
	require.NoError(t, store.SaveAccount(ctx, gone))

	noRefresh := seedAccount(t, store, "no-refresh", "owner-2", 2*time.Minute)
	noRefresh.RefreshToken = ""
	require.NoError(t, store.SaveAccount(ctx, noRefresh))

	accounts, err := store.ListRefreshCandidates(ctx, storeNow, storeNow.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "nearing", accounts[0].AccountID)
}

func TestAccountStore_SaveTokensTouchesOnlyTokenColumns(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "100", "owner-1", 2*time.Minute)
	require.NoError(t, store.AppendError(ctx, "100", models.ErrorEntry{Timestamp: storeNow, Error: "boom", StatusCode: 500}))

	acc, err := store.SaveTokens(ctx, "100", TokenUpdate{AccessToken: "access-new", ExpiresIn: 6 * time.Hour, At: storeNow})
	require.NoError(t, err)
	assert.Equal(t, "access-new", acc.AccessToken)

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "access-new", got.AccessToken)
	assert.Equal(t, "refresh-100", got.RefreshToken, "blank refresh token keeps the stored one")
	assert.True(t, got.TokenExpiresAt.Equal(storeNow.Add(6*time.Hour)))
	assert.Equal(t, models.SyncSuccess, got.LastSyncStatus)
	assert.Equal(t, 1, got.ErrorCount)
	require.Len(t, got.ErrorHistory, 1)
	assert.Equal(t, "boom", got.ErrorHistory[0].Error)
}

func TestAccountStore_SaveTokensKeepsPause(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	stale := seedAccount(t, store, "100", "owner-1", 2*time.Minute)

	_, err := store.ChangeStatus(ctx, "100", "owner-1", func(acc *models.Account) { acc.Pause() })
	require.NoError(t, err)

	// The caller's copy still says active; the stored pause must survive.
	require.Equal(t, models.StatusActive, stale.Status)
	_, err = store.SaveTokens(ctx, "100", TokenUpdate{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresIn: time.Hour, At: storeNow})
	require.NoError(t, err)

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)
	assert.Equal(t, "refresh-new", got.RefreshToken)
}

func TestAccountStore_DisconnectedRecordIsFinal(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "100", "owner-1", 2*time.Minute)

	acc, err := store.ChangeStatus(ctx, "100", "owner-1", func(acc *models.Account) { acc.Disconnect(storeNow) })
	require.NoError(t, err)
	require.True(t, acc.IsDisconnected())

	_, err = store.SaveTokens(ctx, "100", TokenUpdate{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresIn: time.Hour, At: storeNow})
	assert.ErrorIs(t, err, ErrAccountDisconnected)
	err = store.RecordRefreshFailure(ctx, "100", models.ErrorEntry{Timestamp: storeNow, Error: "invalid_grant", StatusCode: 400})
	assert.ErrorIs(t, err, ErrAccountDisconnected)
	err = store.AppendError(ctx, "100", models.ErrorEntry{Timestamp: storeNow, Error: "boom"})
	assert.ErrorIs(t, err, ErrAccountDisconnected)
	_, err = store.ChangeStatus(ctx, "100", "owner-1", func(acc *models.Account) { acc.Resume(storeNow) })
	assert.ErrorIs(t, err, ErrAccountDisconnected)
	require.NoError(t, store.MarkExpired(ctx, "100"))

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, got.DisconnectedAt)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Empty(t, got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.Zero(t, got.ErrorCount)
}

func TestAccountStore_ChangeStatusScopesToOwner(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "100", "owner-1", time.Hour)

	_, err := store.ChangeStatus(ctx, "100", "owner-2", func(acc *models.Account) { acc.Pause() })
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = store.ChangeStatus(ctx, "404", "owner-1", func(acc *models.Account) { acc.Pause() })
	assert.ErrorIs(t, err, ErrAccountNotFound)

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestAccountStore_AppendErrorKeepsRotatedToken(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "100", "owner-1", 2*time.Minute)

	_, err := store.SaveTokens(ctx, "100", TokenUpdate{AccessToken: "access-rotated", RefreshToken: "refresh-rotated", ExpiresIn: time.Hour, At: storeNow})
	require.NoError(t, err)
	require.NoError(t, store.AppendError(ctx, "100", models.ErrorEntry{Timestamp: storeNow, Error: "Order not found", StatusCode: 404}))

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "refresh-rotated", got.RefreshToken)
	assert.Equal(t, "access-rotated", got.AccessToken)
	assert.Equal(t, 1, got.ErrorCount)
}

func TestAccountStore_ConcurrentAppendError(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "100", "owner-1", time.Hour)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.AppendError(ctx, "100", models.ErrorEntry{Timestamp: storeNow, Error: fmt.Sprintf("failure %d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, n, got.ErrorCount)
	assert.Len(t, got.ErrorHistory, n)
}

func TestAccountStore_RecordRefreshFailure(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "100", "owner-1", 2*time.Minute)

	require.NoError(t, store.RecordRefreshFailure(ctx, "100", models.ErrorEntry{Timestamp: storeNow, Error: "invalid_grant", StatusCode: 400}))

	got, err := store.GetAccount(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.SyncFailed, got.LastSyncStatus)
	assert.Equal(t, "invalid_grant", got.LastSyncError)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, "refresh-100", got.RefreshToken)

	err = store.RecordRefreshFailure(ctx, "404", models.ErrorEntry{Timestamp: storeNow, Error: "x"})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountStore_MarkExpiredOnlyFromActive(t *testing.T) {
	store := NewAccountStore(newTestDB(t))
	ctx := context.Background()
	seedAccount(t, store, "active", "owner-1", -time.Minute)
	seedAccount(t, store, "paused", "owner-1", -time.Minute)
	_, err := store.ChangeStatus(ctx, "paused", "owner-1", func(acc *models.Account) { acc.Pause() })
	require.NoError(t, err)

	require.NoError(t, store.MarkExpired(ctx, "active"))
	require.NoError(t, store.MarkExpired(ctx, "paused"))

	got, err := store.GetAccount(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	got, err = store.GetAccount(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)
}
