package bungie

import (
	"errors"
	"fmt"
)

// Well-known platform error codes.
const (
	CodeSuccess            = 1
	CodePrivacyRestriction = 1665
)

// nonRetryableCodes are terminal: retrying the same request cannot succeed.
var nonRetryableCodes = map[int]struct{}{
	7:    {}, // parameter parse failure
	18:   {}, // invalid parameters
	21:   {}, // insufficient privileges
	1665: {}, // privacy restriction
	2101: {}, // invalid or expired API key
	2102: {}, // API key missing
}

// APIError is a structured error response from the upstream platform.
type APIError struct {
	Code            int
	Status          string
	Message         string
	ThrottleSeconds int
	HTTPStatus      int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bungie api error %d (%s): %s", e.Code, e.Status, e.Message)
}

// Retryable reports whether another attempt at the same request may succeed.
func (e *APIError) Retryable() bool {
	_, terminal := nonRetryableCodes[e.Code]
	return !terminal
}

// TransientError wraps network-level failures (timeouts, resets, unparseable
// non-2xx responses). These are always retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("bungie transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsPrivateProfile reports whether err is the expected-empty "profile is
// private or unavailable" condition.
func IsPrivateProfile(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodePrivacyRestriction
}
