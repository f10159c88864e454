// Package auth provides the signing primitives of the OTP validator.
// It implements the HMAC-SHA1 field signatures of the validation protocol and the
// HMAC-SHA256 request authentication used by applications calling the gateway,
// with nonce-based replay protection and configurable clock skew tolerance.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	AuthHeaderPrefix = "OTPGW-HMAC-SHA256" // HTTP Authorization header prefix for gateway callers
	DefaultClockSkew = 300                 // Default clock skew tolerance: 300 seconds = 5 minutes
)

// GatewayAuth signs and verifies requests made to the gateway API.
// Each calling application owns a key ID and a shared secret.
type GatewayAuth struct {
	secrets   map[string]string // keyId -> secret
	clockSkew time.Duration     // Maximum allowed time difference between request and verification
	now       func() time.Time
}

// AuthHeader represents the parsed components of a gateway Authorization header.
type AuthHeader struct {
	KeyID     string // Identifier for the signing key
	Timestamp string // Unix timestamp when request was signed
	Nonce     string // Unique identifier to prevent replay attacks
	Signature string // HMAC-SHA256 signature of the canonical request string
}

// NewGatewayAuth creates an authenticator with the provided secrets and clock skew.
// If clockSkew is 0, uses the default 5-minute tolerance.
func NewGatewayAuth(secrets map[string]string, clockSkew time.Duration) *GatewayAuth {
	if clockSkew == 0 {
		clockSkew = DefaultClockSkew * time.Second
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	return &GatewayAuth{
		secrets:   secrets,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

// AddSecret adds or updates a signing secret for the given key ID.
func (g *GatewayAuth) AddSecret(keyID, secret string) {
	g.secrets[keyID] = secret
}

// KeyCount returns the number of configured caller keys.
func (g *GatewayAuth) KeyCount() int {
	return len(g.secrets)
}

// BodySHA256Hex computes the SHA-256 hash of the request body as a hex string.
func BodySHA256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalRequest creates the string a gateway request signature covers.
func CanonicalRequest(method, path, ts, nonce, bodyHex string) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		ts,
		nonce,
		bodyHex,
	}, "\n")
}

// ComputeRequestSignature generates the HMAC-SHA256 signature for a gateway request.
func ComputeRequestSignature(method, path string, body []byte, ts, nonce, secret string) string {
	canonical := CanonicalRequest(method, path, ts, nonce, BodySHA256Hex(body))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateAuthHeader generates a complete Authorization header for the given request.
// Returns empty string if the keyID is not configured.
func (g *GatewayAuth) CreateAuthHeader(method, path string, body []byte, keyID, nonce string) string {
	secret, exists := g.secrets[keyID]
	if !exists {
		return ""
	}
	ts := strconv.FormatInt(g.now().Unix(), 10)
	sig := ComputeRequestSignature(method, path, body, ts, nonce, secret)

	return fmt.Sprintf("%s keyId=%s,ts=%s,nonce=%s,sig=%s",
		AuthHeaderPrefix, keyID, ts, nonce, sig)
}

// ParseAuthHeader parses an Authorization header into its component parts.
// Returns an error if the prefix is wrong or a required field is missing.
func ParseAuthHeader(authHeader string) (*AuthHeader, error) {
	if !strings.HasPrefix(authHeader, AuthHeaderPrefix+" ") {
		return nil, fmt.Errorf("invalid auth header prefix")
	}

	parts := strings.TrimPrefix(authHeader, AuthHeaderPrefix+" ")
	header := &AuthHeader{}

	for _, pair := range strings.Split(parts, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}

		value := strings.TrimSpace(kv[1])
		switch strings.TrimSpace(kv[0]) {
		case "keyId":
			header.KeyID = value
		case "ts":
			header.Timestamp = value
		case "nonce":
			header.Nonce = value
		case "sig":
			header.Signature = value
		}
	}

	if header.KeyID == "" || header.Timestamp == "" || header.Nonce == "" || header.Signature == "" {
		return nil, fmt.Errorf("missing required auth header fields")
	}

	return header, nil
}

// VerifyRequest validates an incoming gateway request's signature.
// Checks key existence, timestamp freshness and the signature itself.
func (g *GatewayAuth) VerifyRequest(method, path string, body []byte, header *AuthHeader) error {
	secret, exists := g.secrets[header.KeyID]
	if !exists {
		return fmt.Errorf("unknown keyId: %s", header.KeyID)
	}

	ts, err := strconv.ParseInt(header.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %s", header.Timestamp)
	}

	now := g.now().Unix()
	if abs(now-ts) > int64(g.clockSkew.Seconds()) {
		return fmt.Errorf("timestamp outside allowed skew: %d vs %d", ts, now)
	}

	expected := ComputeRequestSignature(method, path, body, header.Timestamp, header.Nonce, secret)
	if !hmac.Equal([]byte(expected), []byte(header.Signature)) {
		return fmt.Errorf("signature mismatch")
	}

	return nil
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
