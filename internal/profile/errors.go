package profile

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrNotFound indicates the subject does not exist in the store.
	ErrNotFound = errors.New("subject not found")

	// ErrNotReady indicates the subject has not reached the stage an
	// operation requires.
	ErrNotReady = errors.New("subject not ready")

	// ErrInsufficientContext indicates retrieval returned no units, so a
	// perspective answer cannot be grounded.
	ErrInsufficientContext = errors.New("insufficient context")
)

// UnavailableKind classifies why an external provider could not serve.
type UnavailableKind string

const (
	UnavailableAuth      UnavailableKind = "auth"
	UnavailableRateLimit UnavailableKind = "rate_limit"
	UnavailableBlocked   UnavailableKind = "blocked"
	UnavailableTimeout   UnavailableKind = "timeout"
	UnavailableDown      UnavailableKind = "down"
)

// UnavailableError wraps a failure from an external provider with enough
// structure for callers to decide whether to retry, skip, or abort.
type UnavailableError struct {
	Provider string
	Kind     UnavailableKind
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a single retry is worthwhile. Auth failures and
// hard blocks never recover within a run.
func (e *UnavailableError) Retryable() bool {
	switch e.Kind {
	case UnavailableRateLimit, UnavailableTimeout, UnavailableDown:
		return true
	}
	return false
}

// Unavailable constructs an UnavailableError.
func Unavailable(provider string, kind UnavailableKind, err error) *UnavailableError {
	return &UnavailableError{Provider: provider, Kind: kind, Err: err}
}

// PreconditionError indicates a subject is missing a prerequisite for an
// operation, such as a visual summary or base image before generation.
type PreconditionError struct {
	Subject string
	Need    string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("subject %q missing precondition: %s", e.Subject, e.Need)
}

// PartialFailure reports a stage that completed for some platforms and failed
// for others. The stage transition still happens; callers surface the
// degradation to the user.
type PartialFailure struct {
	Completed []Platform
	Failed    []Platform
	Errs      map[Platform]error
}

func (e *PartialFailure) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for _, p := range e.Failed {
		failed = append(failed, string(p))
	}
	return fmt.Sprintf("partial failure: %d platforms ok, failed: %s",
		len(e.Completed), strings.Join(failed, ", "))
}
