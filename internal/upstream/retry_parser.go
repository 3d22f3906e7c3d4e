package upstream

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter extracts the backoff the marketplace asks for on a 429.
// It understands both delta-seconds and HTTP-date forms; 0 means no hint.
func ParseRetryAfter(header http.Header, now time.Time) time.Duration {
	retryAfter := strings.TrimSpace(header.Get("Retry-After"))
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
