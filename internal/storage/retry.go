package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryDelay separates the first attempt from the single retry.
const retryDelay = 50 * time.Millisecond

// WriteWithRetry runs write and retries it once on failure. A persistent
// failure is logged and returned; callers on the enforcement and ingestion
// paths drop the write instead of failing the operation.
func WriteWithRetry(ctx context.Context, log *slog.Logger, what string, write func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, write()
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(retryDelay)),
		backoff.WithMaxTries(2),
	)
	if err != nil && log != nil {
		log.Warn("store write dropped", "write", what, "error", err)
	}
	return err
}
