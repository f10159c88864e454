package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// SignatureField is the field carrying the protocol signature in queries and responses.
const SignatureField = "h"

// DecodeKey decodes a base64 encoded client API key into its binary form.
// Keys are issued as standard base64 with padding.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid api key encoding: %w", err)
	}
	return key, nil
}

// CanonicalFields builds the line that gets signed for a set of protocol fields.
// Field names are sorted bytewise and joined as name=value pairs separated by '&'.
// The signature field is always left out.
func CanonicalFields(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == SignatureField {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(fields[name])
	}
	return b.String()
}

// SignFields computes the HMAC-SHA1 signature of the canonical field line and
// returns it base64 encoded, ready to be sent as the h field.
func SignFields(fields map[string]string, key []byte) string {
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(CanonicalFields(fields)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyFields reports whether the h field matches the signature recomputed
// over every other field. A missing h never verifies.
func VerifyFields(fields map[string]string, key []byte) bool {
	sent, ok := fields[SignatureField]
	if !ok {
		return false
	}
	expected := SignFields(fields, key)

	// Constant time comparison to prevent timing attacks
	return hmac.Equal([]byte(expected), []byte(sent))
}
