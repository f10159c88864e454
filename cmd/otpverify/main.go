package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"otp-validator/pkg/client"
	"otp-validator/pkg/config"
	"otp-validator/pkg/logger"
	"otp-validator/pkg/validator"
)

// Exit codes
const (
	exitValid    = 0
	exitRejected = 1
	exitTampered = 2
	exitUsage    = 3
)

type options struct {
	otp          string
	timeout      time.Duration
	urls         []string
	retries      int
	identityOnly bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("otpverify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		otp          = fs.String("otp", "", "OTP to validate (required)")
		timeout      = fs.Duration("timeout", 0, "Validation deadline (overrides OTP_TIMEOUT_SECONDS)")
		urls         = fs.String("urls", "", "Comma separated validation server URLs (overrides OTP_API_URLS)")
		retries      = fs.Int("retries", -1, "Extra attempts when no server answers (overrides OTP_RETRY_ATTEMPTS)")
		identityOnly = fs.Bool("identity-only", false, "Print the token identity of the OTP and exit")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: otpverify -otp <otp> [-timeout 5s] [-urls a,b] [-retries n] [-identity-only]\n\n")
		fmt.Fprintf(stderr, "Exit codes: 0 valid, 1 rejected, 2 tampered response, 3 usage or configuration error\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *otp == "" {
		return nil, errors.New("-otp is required")
	}
	if *timeout < 0 {
		return nil, errors.New("-timeout must not be negative")
	}

	opts := &options{
		otp:          strings.TrimSpace(*otp),
		timeout:      *timeout,
		retries:      *retries,
		identityOnly: *identityOnly,
	}
	for _, u := range strings.Split(*urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			opts.urls = append(opts.urls, u)
		}
	}
	return opts, nil
}

// exitCodeFor maps a verification outcome to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitValid
	case client.IsTampered(err):
		return exitTampered
	case client.KindOf(err) != 0:
		return exitRejected
	default:
		return exitUsage
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitUsage
	}

	if err := validator.ValidateOTP(opts.otp); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	if opts.identityOnly {
		fmt.Fprintln(stdout, client.IdentityFromOTP(opts.otp))
		return exitValid
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitUsage
	}
	if len(opts.urls) > 0 {
		cfg.APIURLs = opts.urls
	}
	timeout := cfg.GetTimeout()
	if opts.timeout > 0 {
		timeout = opts.timeout
	}
	retries := cfg.RetryAttempts
	if opts.retries >= 0 {
		retries = opts.retries
	}

	appLogger := logger.NewConsoleLogger(stderr, cfg.LogLevel, logger.CLI, logger.Verify)

	c, err := client.NewClient(cfg.ClientID, cfg.APIKey,
		client.WithAPIURLs(cfg.APIURLs),
		client.WithHTTPTimeout(cfg.GetHTTPTimeout()),
		client.WithLogger(appLogger),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	res, err := client.VerifyWithRetry(context.Background(), c, opts.otp, timeout, uint64(retries))
	switch code := exitCodeFor(err); code {
	case exitValid:
		fmt.Fprintf(stdout, "OK identity=%s server=%s latency=%s\n", res.Identity, res.Server, res.Latency.Round(time.Millisecond))
		return code
	case exitTampered:
		fmt.Fprintf(stdout, "TAMPERED identity=%s: %v\n", client.IdentityFromOTP(opts.otp), err)
		return code
	case exitRejected:
		fmt.Fprintf(stdout, "REJECTED identity=%s status=%s\n", client.IdentityFromOTP(opts.otp), client.LastStatus(err))
		return code
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return code
	}
}
