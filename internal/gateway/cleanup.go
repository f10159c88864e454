package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// NonceCleaner is the part of the store the cleanup loop needs.
type NonceCleaner interface {
	CleanupOldNonces(olderThan time.Time) error
}

// RunNonceCleanup deletes request nonces older than maxAge every interval
// until ctx is cancelled.
func RunNonceCleanup(ctx context.Context, store NonceCleaner, interval, maxAge time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			olderThan := time.Now().Add(-maxAge)
			if err := store.CleanupOldNonces(olderThan); err != nil {
				logger.Error().Err(err).Msg("Failed to cleanup old nonces")
			} else {
				logger.Debug().Time("older_than", olderThan).Msg("Cleaned up old nonces")
			}
		}
	}
}
