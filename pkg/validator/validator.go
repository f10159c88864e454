// Package validator checks the shape of OTPs before they are sent to
// validation servers. Rejecting garbage locally saves a network round trip
// and keeps junk out of the audit log.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"otp-validator/pkg/client"
)

// ModhexAlphabet is the keyboard-layout independent alphabet tokens type in.
const ModhexAlphabet = "cbdefghijklnrtuv"

const (
	MinOTPLength = client.DynamicLength
	MaxOTPLength = client.DynamicLength + 16
)

var (
	ErrEmptyOTP    = errors.New("otp is empty")
	ErrOTPLength   = errors.New("otp length out of range")
	ErrOTPAlphabet = errors.New("otp contains non-modhex characters")
)

// IsModhex reports whether s is non-empty and consists only of modhex characters.
func IsModhex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(ModhexAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// ValidateOTP checks that otp could have been produced by a token:
// between 32 and 48 modhex characters.
func ValidateOTP(otp string) error {
	if otp == "" {
		return ErrEmptyOTP
	}
	if len(otp) < MinOTPLength || len(otp) > MaxOTPLength {
		return fmt.Errorf("%w: got %d characters, want %d to %d", ErrOTPLength, len(otp), MinOTPLength, MaxOTPLength)
	}
	if !IsModhex(otp) {
		return ErrOTPAlphabet
	}
	return nil
}
