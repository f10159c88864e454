package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"otp-validator/pkg/auth"
	"otp-validator/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mock nonce store that implements the interface methods needed by middleware
type MockDB struct {
	nonces  map[string]bool
	pingErr error
}

func NewMockDB() *MockDB {
	return &MockDB{nonces: make(map[string]bool)}
}

func (m *MockDB) HasSeenNonce(nonce string) (bool, error) {
	return m.nonces[nonce], nil
}

func (m *MockDB) SaveNonce(nonce string) error {
	m.nonces[nonce] = true
	return nil
}

func (m *MockDB) Ping(ctx context.Context) error {
	return m.pingErr
}

func newTestMiddleware() (*Middleware, *auth.GatewayAuth, *MockDB) {
	secrets := map[string]string{"test-key": "test-secret"}
	gatewayAuth := auth.NewGatewayAuth(secrets, 300*time.Second)
	mockDB := NewMockDB()
	return NewMiddleware(gatewayAuth, mockDB, zerolog.Nop()), gatewayAuth, mockDB
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func decodeError(t *testing.T, body io.Reader) models.ErrorResponse {
	t.Helper()
	var errorResp models.ErrorResponse
	if err := json.NewDecoder(body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return errorResp
}

func TestMiddleware_RequestLogging(t *testing.T) {
	middleware, _, _ := newTestMiddleware()
	handler := middleware.RequestLogging(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		t.Error("Expected X-Request-ID to be added to request")
	}
	if w.Header().Get("X-Request-ID") != requestID {
		t.Error("Expected X-Request-ID to be echoed in the response")
	}

	// A caller supplied ID is kept
	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") != "caller-id" {
		t.Errorf("Expected caller-id, got %s", w.Header().Get("X-Request-ID"))
	}
}

func TestMiddleware_SizeLimit(t *testing.T) {
	middleware, _, _ := newTestMiddleware()

	handler := middleware.SizeLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("a", 1000)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for normal request, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("a", MaxRequestSize+1)))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413 for oversized request, got %d", w.Code)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	middleware, _, _ := newTestMiddleware()
	handler := middleware.CORS(okHandler())

	req := httptest.NewRequest("OPTIONS", "/v1/verify", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected Access-Control-Allow-Origin to be '*'")
	}

	if w.Header().Get("Access-Control-Allow-Methods") != "GET, POST, DELETE, OPTIONS" {
		t.Error("Expected Access-Control-Allow-Methods to include GET, POST, DELETE, OPTIONS")
	}

	if w.Header().Get("Access-Control-Allow-Headers") != "Content-Type, Authorization, X-Request-ID" {
		t.Error("Expected Access-Control-Allow-Headers to include required headers")
	}

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for OPTIONS request, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Error("Expected OPTIONS request not to reach the handler")
	}

	req = httptest.NewRequest("GET", "/v1/verify", nil)
	w = httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for GET request, got %d", w.Code)
	}

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers on regular request")
	}
}

func TestMiddleware_HMACAuth_MissingAuthHeader(t *testing.T) {
	middleware, _, _ := newTestMiddleware()
	handler := middleware.HMACAuth(okHandler())

	req := httptest.NewRequest("POST", "/v1/verify", strings.NewReader(`{"otp": "x"}`))
	req.Header.Set("X-Request-ID", uuid.New().String())
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for missing auth header, got %d", w.Code)
	}

	if errorResp := decodeError(t, w.Body); errorResp.Error.Code != "MISSING_AUTH" {
		t.Errorf("Expected error code 'MISSING_AUTH', got '%s'", errorResp.Error.Code)
	}
}

func TestMiddleware_HMACAuth_InvalidAuthHeader(t *testing.T) {
	middleware, _, _ := newTestMiddleware()
	handler := middleware.HMACAuth(okHandler())

	req := httptest.NewRequest("POST", "/v1/verify", strings.NewReader(`{"otp": "x"}`))
	req.Header.Set("Authorization", "Bearer invalid-token")
	req.Header.Set("X-Request-ID", uuid.New().String())
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for invalid auth header, got %d", w.Code)
	}

	if errorResp := decodeError(t, w.Body); errorResp.Error.Code != "INVALID_AUTH" {
		t.Errorf("Expected error code 'INVALID_AUTH', got '%s'", errorResp.Error.Code)
	}
}

func TestMiddleware_HMACAuth_ValidRequest(t *testing.T) {
	middleware, gatewayAuth, mockDB := newTestMiddleware()

	handler := middleware.HMACAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-KeyID") != "test-key" {
			t.Error("Expected X-Auth-KeyID header to be set")
		}
		if r.Header.Get("X-Auth-Timestamp") == "" {
			t.Error("Expected X-Auth-Timestamp header to be set")
		}
		if r.Header.Get("X-Auth-Nonce") == "" {
			t.Error("Expected X-Auth-Nonce header to be set")
		}

		// Body must still be readable downstream
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"otp": "x"}` {
			t.Errorf("Expected body to be restored, got %q", body)
		}

		w.WriteHeader(http.StatusOK)
	}))

	body := []byte(`{"otp": "x"}`)
	nonce := uuid.New().String()
	authHeader := gatewayAuth.CreateAuthHeader("POST", "/v1/verify", body, "test-key", nonce)

	req := httptest.NewRequest("POST", "/v1/verify", bytes.NewReader(body))
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("X-Request-ID", uuid.New().String())
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for valid request, got %d", w.Code)
	}
	if !mockDB.nonces[nonce] {
		t.Error("Expected nonce to be recorded")
	}
}

func TestMiddleware_HMACAuth_NonceReplay(t *testing.T) {
	middleware, gatewayAuth, _ := newTestMiddleware()
	handler := middleware.HMACAuth(okHandler())

	body := []byte(`{"otp": "x"}`)
	authHeader := gatewayAuth.CreateAuthHeader("POST", "/v1/verify", body, "test-key", uuid.New().String())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/verify", bytes.NewReader(body))
		req.Header.Set("Authorization", authHeader)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}

	w := send()
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for replayed request, got %d", w.Code)
	}
	if errorResp := decodeError(t, w.Body); errorResp.Error.Code != "REPLAY_ATTACK" {
		t.Errorf("Expected error code 'REPLAY_ATTACK', got '%s'", errorResp.Error.Code)
	}
}

func TestMiddleware_HMACAuth_ExpiredTimestamp(t *testing.T) {
	middleware, _, mockDB := newTestMiddleware()
	handler := middleware.HMACAuth(okHandler())

	body := []byte(`{"otp": "x"}`)
	nonce := uuid.New().String()

	oldTimestamp := "1000000000" // September 2001
	signature := auth.ComputeRequestSignature("POST", "/v1/verify", body, oldTimestamp, nonce, "test-secret")
	authHeader := fmt.Sprintf("%s keyId=test-key,ts=%s,nonce=%s,sig=%s",
		auth.AuthHeaderPrefix, oldTimestamp, nonce, signature)

	req := httptest.NewRequest("POST", "/v1/verify", bytes.NewReader(body))
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("X-Request-ID", uuid.New().String())
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for expired timestamp, got %d", w.Code)
	}

	if errorResp := decodeError(t, w.Body); errorResp.Error.Code != "INVALID_SIGNATURE" {
		t.Errorf("Expected error code 'INVALID_SIGNATURE', got '%s'", errorResp.Error.Code)
	}
	if mockDB.nonces[nonce] {
		t.Error("Expected rejected request not to consume its nonce")
	}
}

func TestMiddleware_HMACAuth_TamperedBody(t *testing.T) {
	middleware, gatewayAuth, _ := newTestMiddleware()
	handler := middleware.HMACAuth(okHandler())

	authHeader := gatewayAuth.CreateAuthHeader("POST", "/v1/verify", []byte(`{"otp": "x"}`), "test-key", uuid.New().String())

	req := httptest.NewRequest("POST", "/v1/verify", strings.NewReader(`{"otp": "y"}`))
	req.Header.Set("Authorization", authHeader)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for tampered body, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	HealthCheck(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("Expected Content-Type to be application/json")
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestReadinessCheck(t *testing.T) {
	mockDB := NewMockDB()
	handler := ReadinessCheck(mockDB, zerolog.Nop())

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	mockDB.pingErr = errors.New("database is locked")
	w = httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "database connection failed" {
		t.Errorf("Unexpected status '%s'", response["status"])
	}
}

// Test the responseWriter wrapper
func TestResponseWriter_WriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	wrapper := &responseWriter{ResponseWriter: w, statusCode: 200}

	wrapper.WriteHeader(404)

	if wrapper.statusCode != 404 {
		t.Errorf("Expected status code 404, got %d", wrapper.statusCode)
	}

	if w.Code != 404 {
		t.Errorf("Expected underlying recorder to have status 404, got %d", w.Code)
	}
}
