package gateway

import (
	"net/http"

	"otp-validator/pkg/api"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// NewRouter wires the gateway endpoints. Health probes are open; everything
// under /v1 requires an HMAC signed request.
func NewRouter(s *Service, middleware *api.Middleware, ready api.Pinger, logger zerolog.Logger) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RequestLogging)
	router.Use(middleware.SizeLimit)
	router.Use(middleware.CORS)

	// Health endpoints (no auth required)
	router.HandleFunc("/healthz", api.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/readyz", api.ReadinessCheck(ready, logger)).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.HMACAuth)
	v1.HandleFunc("/verify", s.HandleVerify).Methods(http.MethodPost)
	v1.HandleFunc("/tokens", s.HandleBindToken).Methods(http.MethodPost)
	v1.HandleFunc("/tokens/{identity}", s.HandleGetToken).Methods(http.MethodGet)
	v1.HandleFunc("/tokens/{identity}", s.HandleUnbindToken).Methods(http.MethodDelete)
	v1.HandleFunc("/tokens/{identity}/verifications", s.HandleListVerifications).Methods(http.MethodGet)
	v1.HandleFunc("/users/{username}/tokens", s.HandleListUserTokens).Methods(http.MethodGet)

	return router
}
