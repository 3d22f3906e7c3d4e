package token

import "time"

// DefaultRefreshWindow is how long before expiry a token is refreshed.
const DefaultRefreshWindow = 5 * time.Minute

// Freshness classifies a stored access token against the current time.
type Freshness int

const (
	FreshnessValid Freshness = iota
	FreshnessNearingExpiry
	FreshnessCriticallyExpired
)

func (f Freshness) String() string {
	switch f {
	case FreshnessValid:
		return "valid"
	case FreshnessNearingExpiry:
		return "nearing-expiry"
	case FreshnessCriticallyExpired:
		return "critically-expired"
	default:
		return "unknown"
	}
}

// Evaluator classifies tokens using a fixed refresh window.
type Evaluator struct {
	RefreshWindow time.Duration
}

// Classify returns exactly one freshness state. now == expiresAt is critically expired,
// expiresAt-now == window is nearing expiry.
func (e Evaluator) Classify(expiresAt, now time.Time) Freshness {
	window := e.RefreshWindow
	if window <= 0 {
		window = DefaultRefreshWindow
	}
	if !now.Before(expiresAt) {
		return FreshnessCriticallyExpired
	}
	if expiresAt.Sub(now) <= window {
		return FreshnessNearingExpiry
	}
	return FreshnessValid
}

// Classify uses DefaultRefreshWindow.
func Classify(expiresAt, now time.Time) Freshness {
	return Evaluator{}.Classify(expiresAt, now)
}

// TimeToExpiry is negative once the token has expired.
func TimeToExpiry(expiresAt, now time.Time) time.Duration {
	return expiresAt.Sub(now)
}
