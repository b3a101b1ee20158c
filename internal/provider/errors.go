package provider

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// APIError carries the HTTP status and server retry hint of a failed call.
type APIError struct {
	Status     int
	Message    string
	RetryDelay time.Duration // 429 RetryInfo hint; zero when absent
}

func (e *APIError) Error() string {
	if e.RetryDelay > 0 {
		return fmt.Sprintf("api error: http %d: %s (retry in %s)", e.Status, e.Message, e.RetryDelay)
	}
	return fmt.Sprintf("api error: http %d: %s", e.Status, e.Message)
}

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// RetryDelayFrom extracts the server-provided retry delay from a rate-limit
// error, if one was attached.
func RetryDelayFrom(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests && apiErr.RetryDelay > 0 {
		return apiErr.RetryDelay, true
	}
	return 0, false
}

// retryDelayRe matches RetryInfo retryDelay values like `"retryDelay":"5s"`
// or `retryDelay: 12.5s` inside serialized error details.
var retryDelayRe = regexp.MustCompile(`retryDelay["':\s]+"?(\d+(?:\.\d+)?)s`)

// ParseRetryDelay reads a "<n>s" retry hint, either bare or embedded in a
// larger error payload.
func ParseRetryDelay(s string) (time.Duration, bool) {
	trimmed := strings.TrimSpace(s)
	if strings.HasSuffix(trimmed, "s") {
		if secs, err := strconv.ParseFloat(strings.TrimSuffix(trimmed, "s"), 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	}
	if m := retryDelayRe.FindStringSubmatch(s); m != nil {
		secs, err := strconv.ParseFloat(m[1], 64)
		if err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	}
	return 0, false
}
