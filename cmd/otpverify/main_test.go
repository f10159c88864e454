package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"otp-validator/internal/fakeval"
	"otp-validator/pkg/auth"
	"otp-validator/pkg/client"
)

const (
	testOTP    = "cccccccbtuvgjgkdlrnhrdvgvdhcubbtrbffvrkhbtrf"
	testAPIKey = "mG5be6ZJU1qBGz24yPh/ESM3UdU="
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := parseFlags([]string{"-otp", testOTP, "-timeout", "2s", "-urls", "http://a, http://b,", "-retries", "2"}, &stderr)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if opts.otp != testOTP {
		t.Errorf("Expected otp %s, got %s", testOTP, opts.otp)
	}
	if opts.timeout != 2*time.Second {
		t.Errorf("Expected timeout 2s, got %v", opts.timeout)
	}
	if len(opts.urls) != 2 || opts.urls[1] != "http://b" {
		t.Errorf("Unexpected urls %v", opts.urls)
	}
	if opts.retries != 2 {
		t.Errorf("Expected retries 2, got %d", opts.retries)
	}

	opts, err = parseFlags([]string{"-otp", testOTP}, &stderr)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if opts.retries != -1 || opts.timeout != 0 || opts.urls != nil {
		t.Errorf("Expected unset overrides, got %+v", opts)
	}

	for _, args := range [][]string{
		{},
		{"-timeout", "1s"},
		{"-otp", testOTP, "-timeout", "-1s"},
		{"-otp", testOTP, "-bogus"},
	} {
		if _, err := parseFlags(args, &stderr); err == nil {
			t.Errorf("Expected error for args %v", args)
		}
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{nil, exitValid},
		{&client.VerifyError{Kind: client.KindRejected, Status: "REPLAYED_OTP"}, exitRejected},
		{&client.VerifyError{Kind: client.KindNoResponse, Status: client.StatusNoResponse}, exitRejected},
		{&client.VerifyError{Kind: client.KindTampered, Err: client.ErrOTPMismatch}, exitTampered},
		{os.ErrInvalid, exitUsage},
	}

	for _, tt := range tests {
		if got := exitCodeFor(tt.err); got != tt.expected {
			t.Errorf("exitCodeFor(%v): expected %d, got %d", tt.err, tt.expected, got)
		}
	}
}

func TestRun_IdentityOnly(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"-otp", testOTP, "-identity-only"}, &stdout, &stderr)
	if code != exitValid {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "cccccccbtuvg" {
		t.Errorf("Expected identity cccccccbtuvg, got %q", stdout.String())
	}
}

func TestRun_InvalidOTP(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if code := run([]string{"-otp", "not-an-otp"}, &stdout, &stderr); code != exitUsage {
		t.Errorf("Expected exit 3, got %d", code)
	}
}

func setClientEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OTP_CLIENT_ID", "1")
	t.Setenv("OTP_API_KEY", testAPIKey)
	t.Setenv("LOG_LEVEL", "error")
}

func startFakeServer(t *testing.T, b fakeval.Behavior) string {
	t.Helper()
	key, err := auth.DecodeKey(testAPIKey)
	if err != nil {
		t.Fatalf("Failed to decode key: %v", err)
	}
	srv := httptest.NewServer(fakeval.NewHandler(key, b))
	t.Cleanup(srv.Close)
	return srv.URL + "/wsapi/2.0/verify"
}

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		behavior fakeval.Behavior
		expected int
		output   string
	}{
		{"Valid", fakeval.Behavior{}, exitValid, "OK identity=cccccccbtuvg"},
		{"Replayed", fakeval.Behavior{Status: "REPLAYED_OTP"}, exitRejected, "REJECTED identity=cccccccbtuvg status=REPLAYED_OTP"},
		{"Tampered", fakeval.Behavior{TamperNonce: true}, exitTampered, "TAMPERED identity=cccccccbtuvg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setClientEnv(t)
			url := startFakeServer(t, tt.behavior)

			var stdout, stderr bytes.Buffer
			code := run([]string{"-otp", testOTP, "-urls", url, "-timeout", "2s"}, &stdout, &stderr)
			if code != tt.expected {
				t.Fatalf("Expected exit %d, got %d (stdout %q, stderr %q)", tt.expected, code, stdout.String(), stderr.String())
			}
			if !strings.HasPrefix(stdout.String(), tt.output) {
				t.Errorf("Expected output to start with %q, got %q", tt.output, stdout.String())
			}
		})
	}
}

func TestRun_MissingConfig(t *testing.T) {
	t.Setenv("OTP_CLIENT_ID", "")
	t.Setenv("OTP_API_KEY", "")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-otp", testOTP}, &stdout, &stderr); code != exitUsage {
		t.Errorf("Expected exit 3, got %d", code)
	}
	if !strings.Contains(stderr.String(), "OTP_CLIENT_ID") {
		t.Errorf("Expected config error on stderr, got %q", stderr.String())
	}
}
