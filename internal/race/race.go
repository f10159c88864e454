// Package race dispatches one signed query to every configured validation
// server at once and hands back replies in the order they complete.
package race

import (
	"context"
	"sync"
	"time"

	"otp-validator/pkg/wire"

	"github.com/rs/zerolog"
)

// Fetcher performs one blocking GET and returns the response body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Reply is a raw response body together with the server that produced it.
type Reply struct {
	URL     string        // Base URL of the answering server
	Body    []byte        // Raw response body
	Latency time.Duration // Time from dispatch to completion
}

// Race fans a query out to a set of servers.
type Race struct {
	fetcher Fetcher
	logger  zerolog.Logger
}

// New creates a race over the given fetcher.
func New(fetcher Fetcher, logger zerolog.Logger) *Race {
	return &Race{fetcher: fetcher, logger: logger}
}

// Stream starts one request per base URL and returns a channel yielding the
// replies in completion order. The channel is closed once every request has
// finished or the timeout elapses, whichever comes first; replies arriving
// after that are dropped. Failed requests contribute nothing.
//
// The consumer may stop reading at any time: the channel is buffered for every
// server so producers never block.
func (r *Race) Stream(ctx context.Context, baseURLs []string, query string, timeout time.Duration) <-chan Reply {
	out := make(chan Reply, len(baseURLs))
	if len(baseURLs) == 0 {
		close(out)
		return out
	}

	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	results := make(chan Reply, len(baseURLs))

	var wg sync.WaitGroup
	for _, base := range baseURLs {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			start := time.Now()

			body, err := r.fetcher.Fetch(raceCtx, wire.BuildURL(base, query))
			if err != nil {
				r.logger.Debug().Err(err).Str("server", base).Msg("Validation server request failed")
				return
			}

			results <- Reply{URL: base, Body: body, Latency: time.Since(start)}
		}(base)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	go func() {
		defer close(out)
		defer cancel()

		for {
			select {
			case reply := <-results:
				out <- reply
			case <-done:
				// Every producer has returned; flush what is left.
				for {
					select {
					case reply := <-results:
						out <- reply
					default:
						return
					}
				}
			case <-raceCtx.Done():
				r.logger.Debug().Dur("timeout", timeout).Msg("Race deadline reached, ignoring outstanding servers")
				return
			}
		}
	}()

	return out
}

// Collect runs Stream to completion and returns every reply received in time.
func (r *Race) Collect(ctx context.Context, baseURLs []string, query string, timeout time.Duration) []Reply {
	var replies []Reply
	for reply := range r.Stream(ctx, baseURLs, query, timeout) {
		replies = append(replies, reply)
	}
	return replies
}
