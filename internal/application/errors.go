package application

import (
	"errors"
	"fmt"
	"time"
)

// Admission errors are raised before any network call is made and are always
// recoverable by the caller adjusting input or waiting. None are retried
// automatically.
var (
	// ErrAlreadyRunning rejects a trigger while the actor's job is in flight.
	// At most one job per actor; triggers are not queued.
	ErrAlreadyRunning = errors.New("a scan is already running for this actor")

	// ErrSuperseded is returned to a trigger that was replaced by a newer one
	// inside the debounce window. The superseded trigger had no side effects.
	ErrSuperseded = errors.New("trigger superseded by a newer one")

	// ErrCredentialRequired rejects a trigger when no credential is
	// configured at all.
	ErrCredentialRequired = errors.New("no credential configured")

	// ErrNoEntries rejects an empty candidate list.
	ErrNoEntries = errors.New("no entries to scan")

	// ErrTooManyEntries rejects a candidate list longer than MaxScanEntries.
	ErrTooManyEntries = errors.New("entry list exceeds the maximum line count")

	// ErrNoAvailableCredential means no credential in the pool sits below the
	// rotation threshold. The operator must provision a new credential; the
	// system never does so itself.
	ErrNoAvailableCredential = errors.New("no credential below usage threshold")
)

// CooldownActiveError rejects a trigger arriving during the post-job cooldown
// window. Remaining is the exact wall-clock time left, computed from the
// stored completion timestamp; the rejected trigger does not reset or extend
// the window.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active: %.1fs remaining", e.Remaining.Seconds())
}

// InsufficientQuotaError rejects a trigger whose entry list would push the
// credential past the daily cap. Remaining is how many calls the credential
// has left today; whether to scan a shorter list is the caller's decision.
type InsufficientQuotaError struct {
	Remaining int
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("insufficient quota: %d calls remaining today", e.Remaining)
}
