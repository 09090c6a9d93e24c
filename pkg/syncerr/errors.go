// Package syncerr defines the error taxonomy shared by the sync engine.
//
// Callers classify failures with errors.Is against the sentinels below;
// concrete errors wrap a sentinel with fmt.Errorf("...: %w").
package syncerr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means the owner has no stored credential. Terminal, no retry.
	ErrNotConnected = errors.New("calendar not connected")

	// ErrReauthRequired means the provider rejected the refresh token.
	// Surfaced to the owner as a reconnect prompt.
	ErrReauthRequired = errors.New("calendar re-authorization required")

	// ErrTransient covers network failures, rate limiting and provider 5xx responses.
	ErrTransient = errors.New("transient provider failure")

	// ErrAmbiguousMatch means more than one subject matched a name fragment.
	ErrAmbiguousMatch = errors.New("ambiguous subject match")

	// ErrConflictIgnored means a concurrent run already inserted the same sync record.
	ErrConflictIgnored = errors.New("sync record already exists")

	// ErrNotFound is returned by stores for missing rows that callers must handle.
	ErrNotFound = errors.New("not found")
)

// Transient wraps err so that errors.Is(result, ErrTransient) holds
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// ReauthRequired wraps err so that errors.Is(result, ErrReauthRequired) holds
func ReauthRequired(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrReauthRequired, err)
}

// IsRetryable reports whether a failed operation may succeed if attempted again.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// IsTerminal reports whether the owner must act before syncing can resume
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrReauthRequired)
}
