package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otp-validator/internal/gateway"
	"otp-validator/pkg/api"
	"otp-validator/pkg/auth"
	"otp-validator/pkg/client"
	"otp-validator/pkg/config"
	"otp-validator/pkg/db"
	"otp-validator/pkg/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateGateway(); err != nil {
		log.Fatal().Err(err).Msg("Invalid gateway configuration")
	}

	// Initialize logger with file output for the gateway
	logger.InitWithFileLogging(cfg.LogLevel, logger.Gateway)
	defer logger.Close()

	startupLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Gateway, logger.Startup)
	startupLogger.Info().Msg("Starting OTP validation gateway")

	// Initialize database
	database, err := db.NewGatewayDB(cfg.GatewayDBPath)
	if err != nil {
		startupLogger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()
	startupLogger.Info().Str("db_path", cfg.GatewayDBPath).Msg("Database initialized successfully")

	// Initialize HMAC authentication
	gatewayAuth := auth.NewGatewayAuth(cfg.GetGatewaySecrets(), cfg.GetClockSkew())
	startupLogger.Info().Int("secret_count", gatewayAuth.KeyCount()).Msg("HMAC authentication initialized")

	// Initialize validation client
	otpClient, err := client.NewClient(cfg.ClientID, cfg.APIKey,
		client.WithAPIURLs(cfg.APIURLs),
		client.WithHTTPTimeout(cfg.GetHTTPTimeout()),
		client.WithLogger(logger.NewCategoryLogger(cfg.LogLevel, logger.Gateway, logger.Race)),
	)
	if err != nil {
		startupLogger.Fatal().Err(err).Msg("Failed to create validation client")
	}
	startupLogger.Info().
		Str("client_id", cfg.ClientID).
		Strs("api_urls", cfg.APIURLs).
		Int("retry_attempts", cfg.RetryAttempts).
		Bool("require_token_binding", cfg.RequireTokenBinding).
		Msg("Validation client initialized")

	service := gateway.NewService(otpClient, database, gateway.Options{
		Timeout:        cfg.GetTimeout(),
		RetryAttempts:  uint64(cfg.RetryAttempts),
		RequireBinding: cfg.RequireTokenBinding,
	}, logger.NewCategoryLogger(cfg.LogLevel, logger.Gateway, logger.Verify))

	requestLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Gateway, logger.Request)
	middleware := api.NewMiddleware(gatewayAuth, database, requestLogger)
	router := gateway.NewRouter(service, middleware, database, requestLogger)

	server := &http.Server{
		Addr:         cfg.GetGatewayAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GetTimeout()*time.Duration(cfg.RetryAttempts+1) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		startupLogger.Info().Str("address", cfg.GetGatewayAddr()).Msg("Gateway server starting")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			startupLogger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	grpcLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Gateway, logger.GRPC)
	healthServer, err := gateway.StartGRPCHealth(cfg.GatewayGRPCAddr, grpcLogger)
	if err != nil {
		startupLogger.Error().Err(err).Msg("gRPC health endpoint disabled")
	}

	// Start background cleanup goroutine
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go gateway.RunNonceCleanup(bgCtx, database, time.Hour, 2*cfg.GetClockSkew(),
		logger.NewCategoryLogger(cfg.LogLevel, logger.Gateway, logger.General))
	startupLogger.Info().Msg("Background nonce cleanup routine started")

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	startupLogger.Info().Msg("Shutdown signal received")

	if healthServer != nil {
		healthServer.SetServing(false)
	}
	stopBackground()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		startupLogger.Error().Err(err).Msg("Server shutdown error")
	}
	if healthServer != nil {
		if err := healthServer.Stop(ctx); err != nil {
			startupLogger.Error().Err(err).Msg("gRPC shutdown error")
		}
	}

	startupLogger.Info().Msg("Gateway server stopped")

	// Clean up old log files (keep last 7 days)
	if err := logger.CleanupOldLogs(7); err != nil {
		startupLogger.Warn().Err(err).Msg("Failed to cleanup old log files")
	}
}
