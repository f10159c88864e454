package client

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	RetryBaseDelay = 500 * time.Millisecond
	RetryMaxDelay  = 5 * time.Second
)

// Verifier is satisfied by *Client.
type Verifier interface {
	Verify(ctx context.Context, otp string, timeout time.Duration) (*Result, error)
}

// VerifyWithRetry calls v.Verify and retries up to attempts more times while
// no server answers at all. Rejections such as REPLAYED_OTP and tamper
// failures are returned as they are.
func VerifyWithRetry(ctx context.Context, v Verifier, otp string, timeout time.Duration, attempts uint64) (*Result, error) {
	if attempts == 0 {
		return v.Verify(ctx, otp, timeout)
	}

	b := retry.NewExponential(RetryBaseDelay)
	b = retry.WithJitterPercent(15, b)
	b = retry.WithCappedDuration(RetryMaxDelay, b)
	b = retry.WithMaxRetries(attempts, b)

	var result *Result
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := v.Verify(ctx, otp, timeout)
		if err != nil {
			if KindOf(err) == KindNoResponse {
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
