package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/sellerops/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAccountNotFound is returned when no account matches the lookup.
	// An account owned by somebody else is reported the same way.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountDisconnected is returned by writes against an abandoned account.
	ErrAccountDisconnected = errors.New("account is disconnected")
)

// TokenUpdate is the outcome of a successful token refresh.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string // blank keeps the stored one
	ExpiresIn    time.Duration
	At           time.Time
}

// AccountStore reads and writes account credential records.
//
// Apart from SaveAccount every write touches only the columns its operation
// owns, and none of them writes to a disconnected account.
type AccountStore interface {
	// FindAccount returns the account only if it belongs to ownerID.
	FindAccount(ctx context.Context, accountID, ownerID string) (*models.Account, error)
	// GetAccount looks an account up by id alone, for internal callers.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error)
	// ListRefreshCandidates returns connected, active accounts whose token
	// expires in [after, before).
	ListRefreshCandidates(ctx context.Context, after, before time.Time) ([]models.Account, error)

	// SaveAccount creates or replaces the whole record. Only connecting an
	// account does that.
	SaveAccount(ctx context.Context, acc *models.Account) error
	// SaveTokens stores a refreshed token pair and the sync outcome.
	SaveTokens(ctx context.Context, accountID string, update TokenUpdate) (*models.Account, error)
	// RecordRefreshFailure stores a failed sync and appends it to the error history.
	RecordRefreshFailure(ctx context.Context, accountID string, entry models.ErrorEntry) error
	// AppendError adds entry to the error history and bumps the error count.
	AppendError(ctx context.Context, accountID string, entry models.ErrorEntry) error
	// MarkExpired moves an active account to expired. Other states are left alone.
	MarkExpired(ctx context.Context, accountID string) error
	// ChangeStatus applies a lifecycle transition to the owner's account.
	ChangeStatus(ctx context.Context, accountID, ownerID string, apply func(*models.Account)) (*models.Account, error)
}

// GormAccountStore is the gorm-backed AccountStore.
type GormAccountStore struct {
	db *gorm.DB
}

var _ AccountStore = (*GormAccountStore)(nil)

// NewAccountStore wraps a gorm handle.
func NewAccountStore(db *gorm.DB) *GormAccountStore {
	return &GormAccountStore{db: db}
}

func (s *GormAccountStore) FindAccount(ctx context.Context, accountID, ownerID string) (*models.Account, error) {
	var acc models.Account
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND owner_id = ?", accountID, ownerID).
		First(&acc).Error
	if err != nil {
		return nil, notFound(err, accountID)
	}
	return &acc, nil
}

func (s *GormAccountStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var acc models.Account
	if err := s.db.WithContext(ctx).First(&acc, "account_id = ?", accountID).Error; err != nil {
		return nil, notFound(err, accountID)
	}
	return &acc, nil
}

func (s *GormAccountStore) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts for owner %s: %w", ownerID, err)
	}
	return accounts, nil
}

func (s *GormAccountStore) ListRefreshCandidates(ctx context.Context, after, before time.Time) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.WithContext(ctx).
		Where("status = ? AND disconnected_at IS NULL AND refresh_token <> ''", models.StatusActive).
		Where("token_expires_at >= ? AND token_expires_at < ?", after, before).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list refresh candidates: %w", err)
	}
	return accounts, nil
}

func (s *GormAccountStore) SaveAccount(ctx context.Context, acc *models.Account) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns(connectColumns),
		}).
		Create(acc).Error
	if err != nil {
		return fmt.Errorf("save account %s: %w", acc.AccountID, err)
	}
	return nil
}

func (s *GormAccountStore) SaveTokens(ctx context.Context, accountID string, update TokenUpdate) (*models.Account, error) {
	return s.update(ctx, accountID, "", tokenColumns, func(acc *models.Account) {
		acc.MarkRefreshed(update.At, update.AccessToken, update.RefreshToken, update.ExpiresIn)
	})
}

func (s *GormAccountStore) RecordRefreshFailure(ctx context.Context, accountID string, entry models.ErrorEntry) error {
	_, err := s.update(ctx, accountID, "", failureColumns, func(acc *models.Account) {
		acc.MarkRefreshFailed(entry.Timestamp, entry.Error, entry.StatusCode)
	})
	return err
}

func (s *GormAccountStore) AppendError(ctx context.Context, accountID string, entry models.ErrorEntry) error {
	_, err := s.update(ctx, accountID, "", errorColumns, func(acc *models.Account) {
		acc.AppendError(entry.Timestamp, entry.Error, entry.StatusCode)
	})
	return err
}

func (s *GormAccountStore) MarkExpired(ctx context.Context, accountID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("account_id = ? AND status = ? AND disconnected_at IS NULL", accountID, models.StatusActive).
		Update("status", models.StatusExpired).Error
	if err != nil {
		return fmt.Errorf("mark account %s expired: %w", accountID, err)
	}
	return nil
}

func (s *GormAccountStore) ChangeStatus(ctx context.Context, accountID, ownerID string, apply func(*models.Account)) (*models.Account, error) {
	return s.update(ctx, accountID, ownerID, statusColumns, apply)
}

// update re-reads the record inside a transaction, applies fn to it and writes
// back only columns. A blank ownerID matches any owner.
func (s *GormAccountStore) update(ctx context.Context, accountID, ownerID string, columns []string, fn func(*models.Account)) (*models.Account, error) {
	var acc models.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&acc, "account_id = ?", accountID).Error; err != nil {
			return notFound(err, accountID)
		}
		if ownerID != "" && acc.OwnerID != ownerID {
			return ErrAccountNotFound
		}
		if acc.IsDisconnected() {
			return ErrAccountDisconnected
		}

		fn(&acc)
		res := tx.Model(&acc).
			Where("disconnected_at IS NULL").
			Select(columns).
			Updates(&acc)
		if res.Error != nil {
			return fmt.Errorf("update account %s: %w", accountID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountDisconnected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Column sets, one per kind of write. Identity columns and created_at are
// never rewritten.
var (
	connectColumns = []string{
		"owner_id", "nickname",
		"access_token", "refresh_token", "token_expires_at",
		"client_id", "client_secret",
		"last_sync_status", "last_sync_error", "last_sync_at",
		"error_count", "error_history",
		"status", "disconnected_at", "updated_at",
	}
	tokenColumns = []string{
		"access_token", "refresh_token", "token_expires_at",
		"last_sync_status", "last_sync_error", "last_sync_at",
		"status", "updated_at",
	}
	failureColumns = []string{
		"last_sync_status", "last_sync_error", "last_sync_at",
		"error_count", "error_history",
		"status", "updated_at",
	}
	errorColumns  = []string{"error_count", "error_history", "updated_at"}
	statusColumns = []string{"status", "disconnected_at", "access_token", "refresh_token", "updated_at"}
)

func notFound(err error, accountID string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAccountNotFound
	}
	return fmt.Errorf("load account %s: %w", accountID, err)
}
