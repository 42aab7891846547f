package bungie

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIErrorRetryable(t *testing.T) {
	t.Parallel()

	for _, code := range []int{7, 18, 21, 1665, 2101, 2102} {
		err := &APIError{Code: code}
		require.False(t, err.Retryable(), "code %d must be terminal", code)
	}
	for _, code := range []int{5, 1618, 2107} {
		err := &APIError{Code: code}
		require.True(t, err.Retryable(), "code %d must be retryable", code)
	}
}

func TestIsPrivateProfile(t *testing.T) {
	t.Parallel()

	private := &APIError{Code: CodePrivacyRestriction, Status: "DestinyPrivacyRestriction"}
	require.True(t, IsPrivateProfile(private))
	require.True(t, IsPrivateProfile(fmt.Errorf("fetch profile: %w", private)))

	require.False(t, IsPrivateProfile(&APIError{Code: 5}))
	require.False(t, IsPrivateProfile(errors.New("nope")))
	require.False(t, IsPrivateProfile(nil))
}

func TestTransientErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection reset")
	err := &TransientError{Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "connection reset")
}
