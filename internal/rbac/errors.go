package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/grantkeeper/grantkeeper/internal/platform/httpx"
)

// Failure classes returned by the authorization core. Each wraps the
// matching httpx sentinel so transports can map them without knowing rbac.
var (
	ErrAuthorizationDenied = fmt.Errorf("rbac: authorization denied: %w", httpx.ErrForbidden)
	ErrValidationFailed    = fmt.Errorf("rbac: validation failed: %w", httpx.ErrValidation)
	ErrConflictDuplicate   = fmt.Errorf("rbac: duplicate grant: %w", httpx.ErrDuplicate)
	ErrNotFoundState       = fmt.Errorf("rbac: not found: %w", httpx.ErrNotFound)
	// ErrStorageFailure hides transaction and connection errors from callers.
	// It is the only class worth retrying.
	ErrStorageFailure = errors.New("rbac: internal storage failure")
)

// ErrRecordNotFound is returned by stores for point lookups that match nothing.
var ErrRecordNotFound = errors.New("rbac: record not found")

// errConsistency marks a storage-level uniqueness violation that the policy
// should already have excluded.
var errConsistency = errors.New("rbac: grant uniqueness violated at storage layer")

// PolicyError is a classified refusal. Class is one of the Err* failure
// classes above; Values lists offending action names when relevant.
type PolicyError struct {
	Class  error
	Reason string
	Values []string
	cause  error
}

func newPolicyError(class error, reason string, values ...string) *PolicyError {
	return &PolicyError{Class: class, Reason: reason, Values: values}
}

func (e *PolicyError) Error() string {
	if len(e.Values) == 0 {
		return e.Reason
	}
	return e.Reason + ": " + strings.Join(e.Values, ", ")
}

// Unwrap exposes both the failure class and, when present, the underlying cause.
func (e *PolicyError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Class, e.cause}
	}
	return []error{e.Class}
}

// Details returns the offending values for problem responses.
func (e *PolicyError) Details() []string {
	return e.Values
}

// IsRetryable reports whether err belongs to the storage failure class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}

// classified reports whether err already carries a caller-facing class.
func classified(err error) bool {
	return errors.Is(err, ErrAuthorizationDenied) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrConflictDuplicate) ||
		errors.Is(err, ErrNotFoundState) ||
		errors.Is(err, ErrStorageFailure)
}
