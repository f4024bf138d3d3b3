package moderation

import (
	"strings"
)

// ErrorClass represents whether an external-API error should be retried.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure (network, 5xx, 429).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates a permanent failure (auth, bad request).
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error subtypes recorded on raw analytics events so rollups can count
// rate-limit failures separately from generic API failures.
const (
	ErrorSubtypeRateLimit = "rate_limit"
	ErrorSubtypeAPI       = "api_error"
)

// ClassifyAPIError classifies classifier/enforcement API errors into
// retryable vs fatal categories.
//
// Fatal: authentication/authorization (401/403), malformed requests (400,
// invalid parameters), missing resources (404).
// Retryable: server errors (5xx), rate limiting (429), network failures.
// Unmatched errors are treated as retryable so a transient blip never
// permanently disables a check.
func ClassifyAPIError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	lower := strings.ToLower(err.Error())

	// Server errors first so "service unavailable" never matches the
	// not-found patterns below.
	serverPatterns := []string{
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
	}
	for _, p := range serverPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}

	fatalPatterns := []string{
		"401", "403", "unauthorized", "access denied", "invalid api key",
		"authentication", "forbidden",
		"400", "invalid request", "invalid parameter", "malformed",
		"404", "not found",
	}
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}

	networkPatterns := []string{
		"connection reset", "connection refused", "connection timed out",
		"timeout", "temporary failure in name resolution", "no route to host",
		"network unreachable", "dns", "eof", "broken pipe",
	}
	for _, p := range networkPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}

	rateLimitPatterns := []string{"429", "too many requests", "rate limit", "throttled"}
	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}

	return ErrorClassRetryable
}

// ErrorSubtype maps an error onto the analytics error subtype: rate-limit
// failures count separately from everything else.
func ErrorSubtype(err error) string {
	if err == nil {
		return ""
	}
	lower := strings.ToLower(err.Error())
	for _, p := range []string{"429", "too many requests", "rate limit", "throttled"} {
		if strings.Contains(lower, p) {
			return ErrorSubtypeRateLimit
		}
	}
	return ErrorSubtypeAPI
}

// IsRetryableError checks if an error should trigger retry logic.
func IsRetryableError(err error) bool {
	return ClassifyAPIError(err) == ErrorClassRetryable
}
