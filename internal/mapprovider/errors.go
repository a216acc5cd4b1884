package mapprovider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProviderUnavailable is matched by every ProviderError.
var ErrProviderUnavailable = errors.New("map provider unavailable")

// Cause classifies why a backend failed to initialize.
type Cause string

const (
	CauseMissingKey        Cause = "missing_key"
	CauseInvalidKey        Cause = "invalid_key"
	CauseRefererNotAllowed Cause = "referer_not_allowed"
	CauseRequestDenied     Cause = "request_denied"
	CauseOverQuota         Cause = "over_quota"
	CauseLoadFailed        Cause = "load_failed"
)

// Message is the human-readable explanation shown to users.
func (c Cause) Message() string {
	switch c {
	case CauseMissingKey:
		return "Google Maps API key is missing. Please check your configuration."
	case CauseInvalidKey:
		return "Invalid Google Maps API key. Please check your API key configuration."
	case CauseRefererNotAllowed:
		return "Domain not allowed. Please add your domain to the API key restrictions."
	case CauseRequestDenied:
		return "Request denied. Please check your API key permissions and billing."
	case CauseOverQuota:
		return "API quota exceeded. Please check your billing and usage limits."
	}
	return "Map failed to load."
}

// ProviderError reports a failed backend initialization.
type ProviderError struct {
	Provider string
	Cause    Cause
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Cause == CauseLoadFailed && e.Err != nil {
		return fmt.Sprintf("%s: map failed to load: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Cause.Message())
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderUnavailable }

// classify maps a Google status and error message onto a Cause. Both the web
// service statuses and the JavaScript loader error names are recognised.
func classify(status, message string) Cause {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(message, "InvalidKeyMapError"),
		strings.Contains(lower, "api key is invalid"),
		strings.Contains(lower, "invalid api key"):
		return CauseInvalidKey
	case strings.Contains(message, "RefererNotAllowedMapError"),
		strings.Contains(lower, "referer"):
		return CauseRefererNotAllowed
	case strings.Contains(message, "OverQuotaMapError"),
		status == "OVER_QUERY_LIMIT",
		status == "OVER_DAILY_LIMIT":
		return CauseOverQuota
	case strings.Contains(message, "RequestDeniedMapError"),
		status == "REQUEST_DENIED":
		return CauseRequestDenied
	}
	return CauseLoadFailed
}
