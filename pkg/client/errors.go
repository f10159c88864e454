package client

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a verification failed.
type ErrorKind int

const (
	// KindRejected: servers answered but none with a usable OK (e.g. REPLAYED_OTP, BAD_OTP).
	KindRejected ErrorKind = iota + 1
	// KindNoResponse: no server produced a parseable reply before the deadline.
	KindNoResponse
	// KindTampered: an OK reply failed the otp, nonce or signature check. Treat as a security event.
	KindTampered
)

func (k ErrorKind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindNoResponse:
		return "no_response"
	case KindTampered:
		return "tampered"
	default:
		return "unknown"
	}
}

var (
	ErrOTPMismatch     = errors.New("response otp does not match the request, cut and paste attack suspected")
	ErrNonceMismatch   = errors.New("response nonce does not match the request")
	ErrBadSignature    = errors.New("response signature verification failed")
	ErrNoValidResponse = errors.New("no valid response from validation servers")
)

// VerifyError is returned by Verify for every failed validation.
type VerifyError struct {
	Kind   ErrorKind
	Status string // Last status observed, or StatusNoResponse
	Server string // Server whose reply triggered a tamper failure
	Err    error  // One of the Err* sentinels
}

func (e *VerifyError) Error() string {
	if e.Kind == KindTampered {
		return fmt.Sprintf("otp validation failed (%s from %s): %v", e.Kind, e.Server, e.Err)
	}
	return fmt.Sprintf("otp validation failed (%s): status %s", e.Kind, e.Status)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or 0 if err is not a VerifyError.
func KindOf(err error) ErrorKind {
	var verr *VerifyError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return 0
}

// IsTampered reports whether err signals a forged or substituted response.
func IsTampered(err error) bool {
	return KindOf(err) == KindTampered
}

// LastStatus returns the last status string carried by err, or "" if err is
// not a VerifyError.
func LastStatus(err error) string {
	var verr *VerifyError
	if errors.As(err, &verr) {
		return verr.Status
	}
	return ""
}
