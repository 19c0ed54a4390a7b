package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

const (
	deadlockRetryAttempts  = 3
	deadlockRetryBaseDelay = 50 * time.Millisecond
)

// withDeadlockRetry wraps a transactional operation with the retry policy
// for lock conflicts: up to 3 attempts total, backing off 50ms then 100ms.
// Anything other than a transient storage conflict propagates on first
// occurrence.
func withDeadlockRetry(ctx context.Context, logger *slog.Logger, op func(ctx context.Context) error) error {
	delay := deadlockRetryBaseDelay

	var err error
	for attempt := 1; attempt <= deadlockRetryAttempts; attempt++ {
		err = op(ctx)
		if err == nil || !errors.Is(err, domain.ErrTransientConflict) {
			return err
		}
		if attempt == deadlockRetryAttempts {
			logger.Warn("deadlock retry limit exceeded",
				"attempts", attempt,
				"error", err.Error(),
			)
			break
		}

		logger.Info("retrying after storage conflict",
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
