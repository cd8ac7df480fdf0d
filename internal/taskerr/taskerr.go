// Package taskerr defines the error kinds shared across the orchestration
// core. Kinds are sentinels checked with errors.Is; call sites wrap them with
// fmt.Errorf("...: %w", kind) so messages stay specific while handling stays
// uniform.
package taskerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed task/frontmatter/request payloads.
	// Reported to the caller; no state change.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks unknown workspace/task/attachment/skill lookups.
	ErrNotFound = errors.New("not found")

	// ErrStale marks concurrency losers: stale execution attempts, generation
	// mismatches, lease races. Producers drop these silently and may retry.
	ErrStale = errors.New("stale operation")

	// ErrExtensionUnavailable marks a tool call with no registered callback.
	// Returned to the tool as a user-facing message without failing the turn.
	ErrExtensionUnavailable = errors.New("extension callback unavailable")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsStale reports whether err is a dropped concurrency loser.
func IsStale(err error) bool { return errors.Is(err, ErrStale) }
