package models

import "time"

// MaxErrorHistory bounds Account.ErrorHistory; older entries are evicted first.
const MaxErrorHistory = 20

// AccountStatus reflects credential health of a connected seller account.
type AccountStatus string

const (
	StatusActive  AccountStatus = "active"
	StatusPaused  AccountStatus = "paused"
	StatusError   AccountStatus = "error"
	StatusExpired AccountStatus = "expired"
)

// SyncStatus is the outcome of the last token sync (refresh) attempt.
type SyncStatus string

const (
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
	SyncInProgress SyncStatus = "in_progress"
	SyncNone       SyncStatus = "none"
)

// ErrorEntry is one element of the per-account error ring buffer.
type ErrorEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error"`
	StatusCode int       `json:"statusCode,omitempty"`
}

// Account stores the marketplace credentials of one connected seller account.
type Account struct {
	AccountID      string `gorm:"primaryKey"` // marketplace user id
	OwnerID        string `gorm:"index;not null"`
	Nickname       string
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenExpiresAt time.Time `gorm:"not null"`
	ClientID       string    // optional per-account OAuth app
	ClientSecret   string    `json:"-"`
	LastSyncStatus SyncStatus `gorm:"default:none"`
	LastSyncError  string
	LastSyncAt     *time.Time
	ErrorCount     int
	ErrorHistory   []ErrorEntry  `gorm:"serializer:json"`
	Status         AccountStatus `gorm:"index;default:active"`
	DisconnectedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsDisconnected reports whether the account has been permanently abandoned.
func (a *Account) IsDisconnected() bool {
	return a.DisconnectedAt != nil
}

// CanAutoRefresh reports whether the account is eligible for an unattended refresh.
func (a *Account) CanAutoRefresh() bool {
	if a.IsDisconnected() {
		return false
	}
	return a.RefreshToken != ""
}

// AppendError records a failure in the ring buffer and bumps ErrorCount.
func (a *Account) AppendError(now time.Time, msg string, statusCode int) {
	a.ErrorHistory = append(a.ErrorHistory, ErrorEntry{
		Timestamp:  now,
		Error:      msg,
		StatusCode: statusCode,
	})
	if n := len(a.ErrorHistory); n > MaxErrorHistory {
		// Copy so the evicted prefix does not pin the old backing array.
		a.ErrorHistory = append([]ErrorEntry(nil), a.ErrorHistory[n-MaxErrorHistory:]...)
	}
	a.ErrorCount++
}

// MarkRefreshed applies a successful refresh. A blank refreshToken keeps the current one.
func (a *Account) MarkRefreshed(now time.Time, accessToken, refreshToken string, expiresIn time.Duration) {
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.TokenExpiresAt = now.Add(expiresIn)
	a.LastSyncStatus = SyncSuccess
	a.LastSyncError = ""
	a.LastSyncAt = &now
	if a.Status != StatusPaused {
		a.Status = StatusActive
	}
}

// MarkRefreshFailed records a failed refresh attempt.
func (a *Account) MarkRefreshFailed(now time.Time, msg string, statusCode int) {
	a.LastSyncStatus = SyncFailed
	a.LastSyncError = msg
	a.LastSyncAt = &now
	a.Status = StatusError
	a.AppendError(now, msg, statusCode)
}

// Pause stops background refreshes for the account.
func (a *Account) Pause() {
	if a.IsDisconnected() {
		return
	}
	a.Status = StatusPaused
}

// Resume returns a paused account to active (or expired if its token lapsed meanwhile).
func (a *Account) Resume(now time.Time) {
	if a.IsDisconnected() {
		return
	}
	if !now.Before(a.TokenExpiresAt) {
		a.Status = StatusExpired
		return
	}
	a.Status = StatusActive
}

// Disconnect abandons the account for good. Tokens are dropped, the record is kept.
func (a *Account) Disconnect(now time.Time) {
	if a.IsDisconnected() {
		return
	}
	a.Status = StatusError
	a.DisconnectedAt = &now
	a.AccessToken = ""
	a.RefreshToken = ""
}
