// Package autherr classifies every failure that leaves the authentication core.
// Callers switch on Kind (or use errors.Is with the Err* sentinels) and map it to
// their transport; Error() never carries collaborator or provider text.
package autherr

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a class of authentication failure.
type Kind string

const (
	KindRateLimited       Kind = "rate_limited"
	KindOtpInvalid        Kind = "otp_invalid"
	KindAccountLocked     Kind = "account_locked"
	KindOtpDeliveryFailed Kind = "otp_delivery_failed"
	KindTokenMalformed    Kind = "token_malformed"
	KindTokenExpired      Kind = "token_expired"
	KindTokenInvalid      Kind = "token_invalid"
	KindSessionNotFound   Kind = "session_not_found"
	KindSessionRevoked    Kind = "session_revoked"
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidArgument   Kind = "invalid_argument"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is; an *Error matches the sentinel of the same Kind.
var (
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrOtpInvalid        = &Error{Kind: KindOtpInvalid}
	ErrAccountLocked     = &Error{Kind: KindAccountLocked}
	ErrOtpDeliveryFailed = &Error{Kind: KindOtpDeliveryFailed}
	ErrTokenMalformed    = &Error{Kind: KindTokenMalformed}
	ErrTokenExpired      = &Error{Kind: KindTokenExpired}
	ErrTokenInvalid      = &Error{Kind: KindTokenInvalid}
	ErrSessionNotFound   = &Error{Kind: KindSessionNotFound}
	ErrSessionRevoked    = &Error{Kind: KindSessionRevoked}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is the classified error returned by the orchestrator. Only the safe context
// fields below may be shown to a client; cause is for internal logs.
type Error struct {
	Kind Kind
	// RetryAfter is set for RateLimited.
	RetryAfter time.Duration
	// LockedUntil is set for AccountLocked.
	LockedUntil time.Time
	// RemainingAttempts is set for OtpInvalid when the phone belongs to a known user; -1 otherwise.
	RemainingAttempts int
	// Reason is the revocation reason for SessionRevoked, or a short safe detail.
	Reason string

	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("too many requests; retry after %ds", RetryAfterSeconds(e.RetryAfter))
	case KindOtpInvalid:
		return "invalid or expired verification code"
	case KindAccountLocked:
		return "account temporarily locked until " + e.LockedUntil.UTC().Format(time.RFC3339)
	case KindOtpDeliveryFailed:
		return "verification code could not be delivered"
	case KindTokenMalformed:
		return "malformed token"
	case KindTokenExpired:
		return "token expired"
	case KindTokenInvalid:
		return "invalid token"
	case KindSessionNotFound:
		return "invalid refresh token"
	case KindSessionRevoked:
		if e.Reason != "" {
			return "session revoked: " + e.Reason
		}
		return "session revoked"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidArgument:
		if e.Reason != "" {
			return "invalid argument: " + e.Reason
		}
		return "invalid argument"
	default:
		return "internal error"
	}
}

// Unwrap exposes the underlying cause for logging.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// RateLimited returns a RateLimited error carrying retryAfter.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter}
}

// OtpInvalid returns an OtpInvalid error. remaining < 0 means unknown (no user record).
func OtpInvalid(remaining int) *Error {
	return &Error{Kind: KindOtpInvalid, RemainingAttempts: remaining}
}

// AccountLocked returns an AccountLocked error carrying the unlock time.
func AccountLocked(until time.Time) *Error {
	return &Error{Kind: KindAccountLocked, LockedUntil: until}
}

// OtpDeliveryFailed wraps an SMS transport failure.
func OtpDeliveryFailed(cause error) *Error {
	return &Error{Kind: KindOtpDeliveryFailed, cause: cause}
}

// SessionRevoked returns a SessionRevoked error with the revocation reason.
func SessionRevoked(reason string) *Error {
	return &Error{Kind: KindSessionRevoked, Reason: reason}
}

// SessionNotFound returns a SessionNotFound error; reason is set when the session was found
// expired and revoked on the spot.
func SessionNotFound(reason string) *Error {
	return &Error{Kind: KindSessionNotFound, Reason: reason}
}

// Unauthorized returns an Unauthorized error with a safe detail.
func Unauthorized(detail string) *Error {
	return &Error{Kind: KindUnauthorized, Reason: detail}
}

// InvalidArgument returns an InvalidArgument error with a safe detail.
func InvalidArgument(detail string) *Error {
	return &Error{Kind: KindInvalidArgument, Reason: detail}
}

// Internal wraps an unexpected collaborator failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, cause: cause}
}

// New returns an error of kind k wrapping cause.
func New(k Kind, cause error) *Error {
	return &Error{Kind: k, cause: cause}
}

// KindOf returns the Kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// RetryAfterSeconds rounds d up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
