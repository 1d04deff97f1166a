package link

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeNotAuthenticated  = "link_not_authenticated"
	TextCodeIdentityNotFound  = "link_identity_not_found"
	TextCodeTransient         = "link_transient_failure"
	TextCodeRejected          = "link_rejected"
	TextCodeSyncFailure       = "link_sync_failure"
	TextCodeInvalidTransition = "link_invalid_transition"
	TextCodeDisabled          = "link_disabled"
	TextCodeExchangeFail      = "link_token_exchange_failed"
)

// ErrNotAuthenticated is returned when the session is missing or expired.
// Callers must not retry; the user has to re-login.
var ErrNotAuthenticated = errors.New("session missing or expired", errors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrIdentityNotFound is returned when the claimed identity does not exist
// in the external system. Terminal for this attempt; the user must resubmit.
var ErrIdentityNotFound = errors.New("claimed identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(errors.CodeNotFound)

// ErrTransient is returned for transport failures and 5xx responses.
// Eligible for exactly one retry with backoff.
var ErrTransient = errors.New("external service unavailable", errors.CategoryOperation).
	WithTextCode(TextCodeTransient).
	WithCode(errors.CodeInternal)

// ErrRejected is returned when the external system explicitly denied the
// request. Terminal for the current submission.
var ErrRejected = errors.New("request rejected by external system", errors.CategoryAuthz).
	WithTextCode(TextCodeRejected).
	WithCode(errors.CodeForbidden)

// ErrSyncFailure wraps cookie or durable-store write failures. Logged only;
// never interrupts the in-memory flow.
var ErrSyncFailure = errors.New("session synchronization failed", errors.CategoryInternal).
	WithTextCode(TextCodeSyncFailure).
	WithCode(errors.CodeInternal)

// ErrInvalidTransition is returned when a requested link-state change is not
// allowed.
var ErrInvalidTransition = errors.New("invalid link state transition", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(errors.CodeBadRequest)

// ErrLinkingDisabled is returned when the linking feature gate is off.
var ErrLinkingDisabled = errors.New("identity linking is disabled", errors.CategoryAuth).
	WithTextCode(TextCodeDisabled).
	WithCode(errors.CodeForbidden)

// ErrTokenExchangeFailed is returned when the provider code exchange fails.
var ErrTokenExchangeFailed = errors.New("token exchange failed", errors.CategoryAuth).
	WithTextCode(TextCodeExchangeFail).
	WithCode(errors.CodeUnauthorized)

// IsNotAuthenticated reports whether err belongs to the NotAuthenticated
// taxonomy entry.
func IsNotAuthenticated(err error) bool {
	return hasTextCode(err, TextCodeNotAuthenticated)
}

// IsIdentityNotFound reports whether err belongs to the NotFound taxonomy
// entry.
func IsIdentityNotFound(err error) bool {
	return hasTextCode(err, TextCodeIdentityNotFound)
}

// IsTransient reports whether err is eligible for the single allowed retry.
func IsTransient(err error) bool {
	return hasTextCode(err, TextCodeTransient)
}

// IsRejected reports whether the external system explicitly denied the call.
func IsRejected(err error) bool {
	return hasTextCode(err, TextCodeRejected)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// UserMessage maps an error to a human-readable message per taxonomy entry.
// Raw provider/transport text never reaches user-facing flows.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotAuthenticated(err):
		return "Your session has expired. Please sign in again."
	case IsIdentityNotFound(err):
		return "We could not find that identity. Check the spelling and try again."
	case IsTransient(err):
		return "The verification service is temporarily unavailable. Please try again."
	case IsRejected(err):
		return "The request was rejected. Contact a moderator if this keeps happening."
	case hasTextCode(err, TextCodeDisabled):
		return "Identity linking is currently disabled."
	default:
		return "Something went wrong. Please try again."
	}
}
