package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/chartmaker/chartmaker/internal/models"
)

// Reason is the stable code attached to every expected, recoverable outcome.
type Reason string

const (
	ReasonNotFound             Reason = "NOT_FOUND"
	ReasonAccountDeactivated   Reason = "ACCOUNT_DEACTIVATED"
	ReasonInvalidCredentials   Reason = "INVALID_CREDENTIALS"
	ReasonVerificationRequired Reason = "VERIFICATION_REQUIRED"
	ReasonNoChallenge          Reason = "NO_CHALLENGE"
	ReasonExpired              Reason = "EXPIRED"
	ReasonTooManyAttempts      Reason = "TOO_MANY_ATTEMPTS"
	ReasonInvalidOTP           Reason = "INVALID_OTP"
	ReasonResendThrottled      Reason = "RESEND_THROTTLED"
	ReasonDeliveryFailed       Reason = "DELIVERY_FAILED"
	ReasonChannelUnavailable   Reason = "CHANNEL_UNAVAILABLE"
	ReasonUsernameTaken        Reason = "USERNAME_TAKEN"
	ReasonEmailTaken           Reason = "EMAIL_TAKEN"
	ReasonPhoneTaken           Reason = "PHONE_TAKEN"
	ReasonInvalidInput         Reason = "INVALID_REQUEST"
	ReasonSessionRevoked       Reason = "SESSION_REVOKED"
)

// ThrottleReason tells which resend limit was hit.
type ThrottleReason string

const (
	ThrottleDailyMax ThrottleReason = "DAILY_MAX"
	ThrottleTooSoon  ThrottleReason = "TOO_SOON"
)

// Error is returned for every outcome a client is expected to handle.
// Anything that is not an *Error is an infrastructure failure.
type Error struct {
	Reason  Reason
	Message string

	// RemainingAttempts is set for INVALID_OTP.
	RemainingAttempts int
	// Throttle and RetryAfter are set for RESEND_THROTTLED.
	Throttle   ThrottleReason
	RetryAfter time.Duration
	// Pending lists unverified channels for VERIFICATION_REQUIRED.
	Pending   []models.ChannelKind
	AccountID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func newError(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into an *Error when it carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsReason reports whether err carries the given reason code.
func IsReason(err error, reason Reason) bool {
	e, ok := AsError(err)
	return ok && e.Reason == reason
}

func verificationError(result *VerificationResult) *Error {
	switch result.Reason {
	case ReasonInvalidOTP:
		e := newError(ReasonInvalidOTP, "Incorrect code. %d attempts remaining.", result.RemainingAttempts)
		e.RemainingAttempts = result.RemainingAttempts
		return e
	case ReasonExpired:
		return newError(ReasonExpired, "Code expired. Please request a new code.")
	case ReasonTooManyAttempts:
		return newError(ReasonTooManyAttempts, "Too many failed attempts. Please request a new code.")
	default:
		return newError(ReasonNoChallenge, "No code has been requested. Please request a new code.")
	}
}
