// Package api provides HTTP middleware components for the OTP validation gateway.
// Includes authentication, logging, CORS, request limiting, and health check functionality.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"otp-validator/pkg/auth"
	"otp-validator/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	MaxRequestSize = 64 * 1024 // Maximum allowed request body: 64KB
)

// NonceStore remembers request nonces for replay protection.
type NonceStore interface {
	HasSeenNonce(nonce string) (bool, error)
	SaveNonce(nonce string) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Middleware provides HTTP middleware functionality with HMAC authentication and request logging.
type Middleware struct {
	gatewayAuth *auth.GatewayAuth // HMAC authenticator for request verification
	nonces      NonceStore        // Seen nonce tracking
	logger      zerolog.Logger
}

// NewMiddleware creates a new middleware instance with HMAC authentication and nonce storage.
func NewMiddleware(gatewayAuth *auth.GatewayAuth, nonces NonceStore, logger zerolog.Logger) *Middleware {
	return &Middleware{
		gatewayAuth: gatewayAuth,
		nonces:      nonces,
		logger:      logger,
	}
}

// RequestLogging middleware logs HTTP request start and completion with timing.
// Generates a request ID when the caller did not send one and echoes it back.
func (m *Middleware) RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		// Handlers read the request ID back from the header
		r.Header.Set("X-Request-ID", requestID)
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		m.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Request started")

		next.ServeHTTP(wrapped, r)

		m.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

// SizeLimit middleware restricts request body size to MaxRequestSize.
func (m *Middleware) SizeLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// HMACAuth middleware validates HMAC-SHA256 signatures and prevents replay attacks.
// Checks authorization headers, verifies signatures, and tracks nonces.
func (m *Middleware) HMACAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		logger := m.logger.With().Str("request_id", requestID).Logger()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteError(w, http.StatusUnauthorized, "MISSING_AUTH", "Authorization header required", requestID)
			return
		}

		authInfo, err := auth.ParseAuthHeader(authHeader)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to parse auth header")
			WriteError(w, http.StatusUnauthorized, "INVALID_AUTH", "Invalid authorization header", requestID)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read request body")
			WriteError(w, http.StatusBadRequest, "READ_ERROR", "Failed to read request body", requestID)
			return
		}

		// Restore body for later use
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := m.checkNonce(authInfo.Nonce); err != nil {
			logger.Error().Err(err).Str("nonce", authInfo.Nonce).Msg("Nonce replay detected")
			WriteError(w, http.StatusUnauthorized, "REPLAY_ATTACK", "Nonce already seen", requestID)
			return
		}

		if err := m.gatewayAuth.VerifyRequest(r.Method, r.URL.EscapedPath(), body, authInfo); err != nil {
			logger.Error().Err(err).Str("key_id", authInfo.KeyID).Msg("Signature verification failed")
			WriteError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Signature verification failed", requestID)
			return
		}

		if err := m.nonces.SaveNonce(authInfo.Nonce); err != nil {
			// Not fatal: the timestamp window still bounds replays
			logger.Error().Err(err).Msg("Failed to save nonce")
		}

		r.Header.Set("X-Auth-KeyID", authInfo.KeyID)
		r.Header.Set("X-Auth-Timestamp", authInfo.Timestamp)
		r.Header.Set("X-Auth-Nonce", authInfo.Nonce)

		logger.Debug().Str("key_id", authInfo.KeyID).Msg("Authentication successful")
		next.ServeHTTP(w, r)
	})
}

// CORS middleware adds Cross-Origin Resource Sharing headers.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) checkNonce(nonce string) error {
	seen, err := m.nonces.HasSeenNonce(nonce)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("nonce already seen")
	}
	return nil
}

// WriteJSON sends v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteError sends a standardized JSON error response to the client.
func WriteError(w http.ResponseWriter, statusCode int, code, message, requestID string) {
	WriteJSON(w, statusCode, models.ErrorResponse{
		Error: models.ErrorDetails{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HealthCheck provides a simple health status endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadinessCheck provides a readiness probe that verifies database connectivity.
// Returns 503 Service Unavailable if the ping fails.
func ReadinessCheck(store Pinger, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			logger.Error().Err(err).Msg("Database readiness check failed")
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database connection failed"})
			return
		}

		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
