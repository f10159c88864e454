package client

import (
	"crypto/rand"
	"fmt"
)

// DynamicLength is the length of the per-use part at the end of every OTP.
const DynamicLength = 32

// IdentityFromOTP returns the token identity: everything before the trailing
// 32 character dynamic part. It is the same for every OTP a token emits, so
// applications use it to tie a token to an account. OTPs of 32 characters or
// less have no identity.
func IdentityFromOTP(otp string) string {
	if len(otp) <= DynamicLength {
		return ""
	}
	return otp[:len(otp)-DynamicLength]
}

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateNonce returns n random ASCII letters from crypto/rand.
func GenerateNonce(n int) (string, error) {
	// 208 is the largest multiple of 52 that fits in a byte; higher values
	// are rejected to keep the distribution uniform.
	const limit = 256 - 256%len(nonceAlphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
