// Package gateway exposes OTP validation over HTTP for applications that
// cannot embed the Go client. Every accept/reject decision is delegated to
// client.Verify; the gateway adds format checks, token-to-user bindings and
// an audit trail.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"otp-validator/pkg/api"
	"otp-validator/pkg/client"
	"otp-validator/pkg/db"
	"otp-validator/pkg/models"
	"otp-validator/pkg/validator"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	// KindBindingMismatch marks an OTP refused because its token belongs to
	// someone else or is unbound while bindings are required.
	KindBindingMismatch = "binding_mismatch"

	MaxVerificationLimit = 500
)

// Options tunes how the gateway validates.
type Options struct {
	Timeout        time.Duration // Deadline for one validation; zero uses client.DefaultTimeout
	RetryAttempts  uint64        // Extra attempts when no server answers
	RequireBinding bool          // Refuse OTPs of tokens not bound to the claimed user
}

type Service struct {
	verifier client.Verifier
	store    db.Store
	opts     Options
	logger   zerolog.Logger
}

func NewService(verifier client.Verifier, store db.Store, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		verifier: verifier,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Outcome is the result of one gateway validation.
type Outcome struct {
	Response   models.VerifyResponse
	StatusCode int
}

// VerifyOTP checks format and binding, runs the validation protocol, and
// records the attempt. The returned status code is 200 when valid, 401 when
// rejected or unanswered, 403 when tampered or the binding does not match,
// and 500 when the validation could not be started.
func (s *Service) VerifyOTP(ctx context.Context, requestID, otp, username string) Outcome {
	return s.verify(ctx, requestID, otp, username, true)
}

func (s *Service) verify(ctx context.Context, requestID, otp, username string, enforceBinding bool) Outcome {
	start := time.Now()
	identity := client.IdentityFromOTP(otp)
	logger := s.logger.With().
		Str("request_id", requestID).
		Str("identity", identity).
		Str("username", username).
		Logger()

	out := Outcome{Response: models.VerifyResponse{Identity: identity, RequestID: requestID}}

	if ok, err := s.checkBinding(ctx, identity, username, enforceBinding); err != nil {
		logger.Error().Err(err).Msg("Failed to load token binding")
		out.StatusCode = http.StatusInternalServerError
		out.Response.ErrorKind = "internal"
		return out
	} else if !ok {
		logger.Warn().Msg("Token binding mismatch")
		out.StatusCode = http.StatusForbidden
		out.Response.ErrorKind = KindBindingMismatch
		s.audit(ctx, logger, requestID, username, start, out.Response)
		return out
	}

	res, err := client.VerifyWithRetry(ctx, s.verifier, otp, s.opts.Timeout, s.opts.RetryAttempts)
	switch {
	case err == nil:
		out.StatusCode = http.StatusOK
		out.Response.Valid = true
		out.Response.Status = res.Status
		out.Response.Server = res.Server
		logger.Info().Str("server", res.Server).Dur("latency", res.Latency).Msg("OTP accepted")

	case client.KindOf(err) == client.KindTampered:
		var verr *client.VerifyError
		errors.As(err, &verr)
		out.StatusCode = http.StatusForbidden
		out.Response.Status = verr.Status
		out.Response.Server = verr.Server
		out.Response.ErrorKind = verr.Kind.String()
		logger.Warn().Err(err).Msg("Tampered validation response")

	case client.KindOf(err) != 0:
		out.StatusCode = http.StatusUnauthorized
		out.Response.Status = client.LastStatus(err)
		out.Response.ErrorKind = client.KindOf(err).String()
		logger.Info().Str("status", out.Response.Status).Str("kind", out.Response.ErrorKind).Msg("OTP rejected")

	default:
		logger.Error().Err(err).Msg("Validation could not run")
		out.StatusCode = http.StatusInternalServerError
		out.Response.ErrorKind = "internal"
		return out
	}

	s.audit(ctx, logger, requestID, username, start, out.Response)
	return out
}

// checkBinding reports whether username may use the token. A token bound to
// a different user is always refused; an unbound token only when bindings are
// required.
func (s *Service) checkBinding(ctx context.Context, identity, username string, enforce bool) (bool, error) {
	if !enforce || (username == "" && !s.opts.RequireBinding) {
		return true, nil
	}

	binding, err := s.store.GetTokenBinding(ctx, identity)
	if errors.Is(err, db.ErrTokenNotFound) {
		return !s.opts.RequireBinding, nil
	}
	if err != nil {
		return false, err
	}
	return binding.Username == username, nil
}

func (s *Service) audit(ctx context.Context, logger zerolog.Logger, requestID, username string, start time.Time, resp models.VerifyResponse) {
	record := &models.VerificationRecord{
		RequestID:  requestID,
		Identity:   resp.Identity,
		Username:   username,
		Status:     resp.Status,
		Valid:      resp.Valid,
		ErrorKind:  resp.ErrorKind,
		ServerURL:  resp.Server,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err := s.store.SaveVerification(ctx, record); err != nil {
		logger.Error().Err(err).Msg("Failed to save verification audit")
	}
}

func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", requestID)
		return
	}
	if err := validator.ValidateOTP(req.OTP); err != nil {
		api.WriteError(w, http.StatusBadRequest, "INVALID_OTP", err.Error(), requestID)
		return
	}
	if s.opts.RequireBinding && req.Username == "" {
		api.WriteError(w, http.StatusBadRequest, "MISSING_USERNAME", "username is required", requestID)
		return
	}

	out := s.VerifyOTP(r.Context(), requestID, req.OTP, req.Username)
	if out.StatusCode == http.StatusInternalServerError {
		api.WriteError(w, out.StatusCode, "INTERNAL_ERROR", "Validation could not be performed", requestID)
		return
	}
	api.WriteJSON(w, out.StatusCode, out.Response)
}

// HandleBindToken binds the token that produced a fresh OTP to a user.
func (s *Service) HandleBindToken(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	ctx := r.Context()

	var req models.BindTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", requestID)
		return
	}
	if req.Username == "" {
		api.WriteError(w, http.StatusBadRequest, "MISSING_USERNAME", "username is required", requestID)
		return
	}
	if err := validator.ValidateOTP(req.OTP); err != nil {
		api.WriteError(w, http.StatusBadRequest, "INVALID_OTP", err.Error(), requestID)
		return
	}

	identity := client.IdentityFromOTP(req.OTP)
	logger := s.logger.With().Str("request_id", requestID).Str("identity", identity).Logger()

	// Refuse early so a token owned by someone else does not burn an OTP
	existing, err := s.store.GetTokenBinding(ctx, identity)
	switch {
	case err == nil && existing.Username != req.Username:
		api.WriteError(w, http.StatusConflict, "TOKEN_ALREADY_BOUND", "Token is bound to another user", requestID)
		return
	case err != nil && !errors.Is(err, db.ErrTokenNotFound):
		logger.Error().Err(err).Msg("Failed to load token binding")
		api.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to load token binding", requestID)
		return
	}

	// The binding is what is being created, so it is not enforced here
	out := s.verify(ctx, requestID, req.OTP, req.Username, false)
	switch out.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		api.WriteError(w, out.StatusCode, "OTP_TAMPERED", "Validation response failed integrity checks", requestID)
		return
	case http.StatusUnauthorized:
		api.WriteError(w, out.StatusCode, "OTP_REJECTED", "OTP rejected: "+out.Response.Status, requestID)
		return
	default:
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Validation could not be performed", requestID)
		return
	}

	binding := &models.TokenBinding{Identity: identity, Username: req.Username, Label: req.Label}
	if err := s.store.BindToken(ctx, binding); err != nil {
		if errors.Is(err, db.ErrTokenBoundToOther) {
			api.WriteError(w, http.StatusConflict, "TOKEN_ALREADY_BOUND", "Token is bound to another user", requestID)
			return
		}
		logger.Error().Err(err).Msg("Failed to bind token")
		api.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to bind token", requestID)
		return
	}

	logger.Info().Str("username", req.Username).Msg("Token bound")
	api.WriteJSON(w, http.StatusCreated, binding)
}

func (s *Service) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	identity := mux.Vars(r)["identity"]

	binding, err := s.store.GetTokenBinding(r.Context(), identity)
	if errors.Is(err, db.ErrTokenNotFound) {
		api.WriteError(w, http.StatusNotFound, "TOKEN_NOT_FOUND", "Token is not bound", requestID)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("identity", identity).Msg("Failed to load token binding")
		api.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to load token binding", requestID)
		return
	}

	api.WriteJSON(w, http.StatusOK, binding)
}

func (s *Service) HandleUnbindToken(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	identity := mux.Vars(r)["identity"]

	err := s.store.UnbindToken(r.Context(), identity)
	if errors.Is(err, db.ErrTokenNotFound) {
		api.WriteError(w, http.StatusNotFound, "TOKEN_NOT_FOUND", "Token is not bound", requestID)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("identity", identity).Msg("Failed to unbind token")
		api.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to unbind token", requestID)
		return
	}

	s.logger.Info().Str("request_id", requestID).Str("identity", identity).Msg("Token unbound")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) HandleListVerifications(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	identity := mux.Vars(r)["identity"]

	limit := db.DefaultVerificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.WriteError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", requestID)
			return
		}
		limit = min(n, MaxVerificationLimit)
	}

	records, err := s.store.ListVerifications(r.Context(), identity, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("identity", identity).Msg("Failed to list verifications")
		api.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to list verifications", requestID)
		return
	}

	api.WriteJSON(w, http.StatusOK, models.VerificationListResponse{Identity: identity, Verifications: records})
}

func (s *Service) HandleListUserTokens(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	username := mux.Vars(r)["username"]

	tokens, err := s.store.ListTokensForUser(r.Context(), username)
	if err != nil {
		s.logger.Error().Err(err).Str("username", username).Msg("Failed to list tokens")
		api.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "Failed to list tokens", requestID)
		return
	}

	api.WriteJSON(w, http.StatusOK, models.TokenListResponse{Username: username, Tokens: tokens})
}
