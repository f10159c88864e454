// Package client validates hardware token OTPs against validation servers
// using the signed validation protocol (version 2.0).
//
// A Client holds the API credentials and is safe for concurrent use:
//
//	c, err := client.NewClient("12345", "mG5be6ZJU1qBGz24yPh/ESM3UdU=")
//	res, err := c.Verify(ctx, otp, 0)
//	if client.IsTampered(err) {
//		// security event, never retry
//	}
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otp-validator/internal/race"
	"otp-validator/pkg/auth"
	"otp-validator/pkg/transport"
	"otp-validator/pkg/wire"

	"github.com/rs/zerolog"
)

const (
	DefaultTimeout   = 5 * time.Second
	NonceLength      = 20
	StatusOK         = "OK"
	StatusNoResponse = "OTP validation failed"
)

var defaultAPIURLs = []string{
	"https://api.yubico.com/wsapi/2.0/verify",
	"https://api2.yubico.com/wsapi/2.0/verify",
	"https://api3.yubico.com/wsapi/2.0/verify",
	"https://api4.yubico.com/wsapi/2.0/verify",
	"https://api5.yubico.com/wsapi/2.0/verify",
}

// DefaultAPIURLs returns a copy of the public validation server endpoints.
func DefaultAPIURLs() []string {
	return append([]string(nil), defaultAPIURLs...)
}

// Result describes an accepted OTP.
type Result struct {
	Status   string        // Always StatusOK
	OTP      string        // The validated OTP
	Identity string        // Token identity prefix of the OTP
	Nonce    string        // Nonce bound to this validation
	Server   string        // Base URL of the server whose reply was accepted
	Latency  time.Duration // Round trip of the accepted reply
	Fields   wire.Fields   // Full signed reply, including t, sl and other extras
}

// Client validates OTPs for one API client id.
type Client struct {
	clientID string
	key      []byte

	mu      sync.RWMutex
	apiURLs []string

	fetcher     race.Fetcher
	httpTimeout time.Duration
	logger      zerolog.Logger
	race        *race.Race

	newNonce   func() (string, error)
	onEvaluate func(race.Reply)
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURLs sets the validation servers to query.
func WithAPIURLs(urls []string) Option {
	return func(c *Client) {
		c.apiURLs = append([]string(nil), urls...)
	}
}

// WithFetcher replaces the HTTP transport.
func WithFetcher(f race.Fetcher) Option {
	return func(c *Client) {
		c.fetcher = f
	}
}

// WithHTTPTimeout sets the per-request timeout of the default transport.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpTimeout = d
	}
}

// WithLogger sets the logger used for protocol events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client from its id and base64 encoded API key.
func NewClient(clientID, apiKey string, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	key, err := auth.DecodeKey(apiKey)
	if err != nil {
		return nil, err
	}

	c := &Client{
		clientID: clientID,
		key:      key,
		apiURLs:  DefaultAPIURLs(),
		logger:   zerolog.Nop(),
		newNonce: func() (string, error) { return GenerateNonce(NonceLength) },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = transport.NewHTTPFetcher(c.httpTimeout)
	}
	c.race = race.New(c.fetcher, c.logger)

	return c, nil
}

// ClientID returns the API client id.
func (c *Client) ClientID() string {
	return c.clientID
}

// APIURLs returns a copy of the configured validation servers.
func (c *Client) APIURLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.apiURLs...)
}

// SetAPIURLs replaces the validation servers. Verifications already running
// keep the list they started with.
func (c *Client) SetAPIURLs(urls []string) {
	c.mu.Lock()
	c.apiURLs = append([]string(nil), urls...)
	c.mu.Unlock()
}

// Verify asks every configured server to validate otp and returns on the
// first reply that is OK, echoes otp and nonce, and carries a valid
// signature. Non-OK and unparseable replies are skipped. An OK reply failing
// any check aborts immediately with a KindTampered error. A timeout of zero
// uses DefaultTimeout.
func (c *Client) Verify(ctx context.Context, otp string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	nonce, err := c.newNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	query := wire.Fields{
		wire.FieldID:    c.clientID,
		wire.FieldNonce: nonce,
		wire.FieldOTP:   otp,
	}
	query[wire.FieldSignature] = auth.SignFields(query, c.key)

	urls := c.APIURLs()
	identity := IdentityFromOTP(otp)
	logger := c.logger.With().Str("identity", identity).Str("nonce", nonce).Logger()
	logger.Debug().Int("servers", len(urls)).Dur("timeout", timeout).Msg("Dispatching validation request")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	status := StatusNoResponse
	observed := false

	for reply := range c.race.Stream(ctx, urls, wire.EncodeQuery(query), timeout) {
		if c.onEvaluate != nil {
			c.onEvaluate(reply)
		}

		resp, err := wire.ParseResponse(reply.Body)
		if err != nil {
			logger.Debug().Err(err).Str("server", reply.URL).Msg("Skipping unparseable reply")
			continue
		}
		replyStatus, ok := resp.Status()
		if !ok {
			logger.Debug().Str("server", reply.URL).Msg("Skipping reply without status")
			continue
		}

		status = replyStatus
		observed = true
		if replyStatus != StatusOK {
			logger.Debug().Str("server", reply.URL).Str("status", replyStatus).Msg("Server rejected OTP")
			continue
		}

		if resp[wire.FieldOTP] != otp {
			return nil, c.tampered(logger, reply.URL, replyStatus, ErrOTPMismatch)
		}
		if resp[wire.FieldNonce] != nonce {
			return nil, c.tampered(logger, reply.URL, replyStatus, ErrNonceMismatch)
		}
		if !auth.VerifyFields(resp, c.key) {
			return nil, c.tampered(logger, reply.URL, replyStatus, ErrBadSignature)
		}

		logger.Info().Str("server", reply.URL).Dur("latency", reply.Latency).Msg("OTP validated")
		return &Result{
			Status:   replyStatus,
			OTP:      otp,
			Identity: identity,
			Nonce:    nonce,
			Server:   reply.URL,
			Latency:  reply.Latency,
			Fields:   resp,
		}, nil
	}

	kind := KindRejected
	if !observed {
		kind = KindNoResponse
	}
	logger.Info().Str("status", status).Str("kind", kind.String()).Msg("OTP validation failed")

	return nil, &VerifyError{Kind: kind, Status: status, Err: ErrNoValidResponse}
}

func (c *Client) tampered(logger zerolog.Logger, server, status string, cause error) error {
	logger.Warn().Str("server", server).Err(cause).Msg("Tampered validation response")
	return &VerifyError{Kind: KindTampered, Status: status, Server: server, Err: cause}
}
