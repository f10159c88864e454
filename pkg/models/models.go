// Package models defines data structures for the OTP validation gateway.
// This package contains API request/response models and database models
// shared by the gateway handlers and the persistence layer.
package models

import (
	"time"
)

// API Requests and Responses

// VerifyRequest asks the gateway to validate one OTP on behalf of a user.
type VerifyRequest struct {
	OTP      string `json:"otp"`                // OTP as typed by the hardware token
	Username string `json:"username,omitempty"` // Claimed owner; checked against the token binding when required
}

// VerifyResponse reports the outcome of a validation.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`                // Whether a validation server accepted the OTP
	Status    string `json:"status"`               // Accepted status or last status observed
	Identity  string `json:"identity"`             // Token identity derived from the OTP
	ErrorKind string `json:"error_kind,omitempty"` // rejected, no_response, tampered or binding_mismatch
	Server    string `json:"server,omitempty"`     // Server whose reply decided the outcome
	RequestID string `json:"request_id,omitempty"` // X-Request-ID for correlation
}

// BindTokenRequest registers the token producing otp as belonging to username.
// The OTP must validate before the binding is stored.
type BindTokenRequest struct {
	Username string `json:"username"`        // Owner of the token
	OTP      string `json:"otp"`             // Fresh OTP proving possession
	Label    string `json:"label,omitempty"` // Optional human-readable token name
}

// TokenListResponse lists the tokens bound to one user.
type TokenListResponse struct {
	Username string         `json:"username"`
	Tokens   []TokenBinding `json:"tokens"`
}

// VerificationListResponse lists recent validations of one token.
type VerificationListResponse struct {
	Identity      string               `json:"identity"`
	Verifications []VerificationRecord `json:"verifications"`
}

// Database Models

// TokenBinding associates a token identity with the user that owns it.
type TokenBinding struct {
	Identity  string    `json:"identity" db:"identity"`     // Token identity (OTP prefix)
	Username  string    `json:"username" db:"username"`     // Owning user
	Label     string    `json:"label" db:"label"`           // Optional token name
	CreatedAt time.Time `json:"created_at" db:"created_at"` // When the binding was created
}

// VerificationRecord is the audit trail of one gateway validation.
type VerificationRecord struct {
	ID         int64     `json:"id" db:"id"`                   // Auto-increment primary key
	RequestID  string    `json:"request_id" db:"request_id"`   // X-Request-ID for correlation
	Identity   string    `json:"identity" db:"identity"`       // Token identity
	Username   string    `json:"username" db:"username"`       // Claimed user, if any
	Status     string    `json:"status" db:"status"`           // Accepted or last observed status
	Valid      bool      `json:"valid" db:"valid"`             // Whether the OTP was accepted
	ErrorKind  string    `json:"error_kind" db:"error_kind"`   // Failure classification, empty when valid
	ServerURL  string    `json:"server_url" db:"server_url"`   // Deciding server, if any
	DurationMs int64     `json:"duration_ms" db:"duration_ms"` // Wall time of the validation
	CreatedAt  time.Time `json:"created_at" db:"created_at"`   // Record creation time
}

// SeenNonce tracks used nonces to prevent replay attacks in HMAC authentication.
// Each nonce can only be used once within the configured time window.
type SeenNonce struct {
	Nonce  string    `json:"nonce" db:"nonce"`     // Unique nonce string (UUID)
	SeenAt time.Time `json:"seen_at" db:"seen_at"` // When this nonce was first seen
}

// Error Response

// ErrorResponse represents a standardized error response structure.
// Used to return consistent error information to API clients.
type ErrorResponse struct {
	Error ErrorDetails `json:"error"` // Detailed error information
}

// ErrorDetails contains specific error information including codes and messages.
type ErrorDetails struct {
	Code      string `json:"code"`                 // Machine-readable error code
	Message   string `json:"message"`              // Human-readable error description
	RequestID string `json:"request_id,omitempty"` // Request ID for error correlation
}
