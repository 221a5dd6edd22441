package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/stackrent/stackrent/internal/core/domain"
)

// retrySchedule is the backoff applied between rate-limited attempts.
// One initial call plus one retry per entry, then the normalized RateLimited
// error is surfaced to the caller.
var retrySchedule = []time.Duration{time.Second, 3 * time.Second}

// withRetry runs fn, retrying with exponential backoff while the normalized
// error is RateLimited. Every other error, including nil, returns immediately.
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err = fn(callCtx)
		cancel()

		if err == nil || !domain.IsCode(err, domain.CodeRateLimited) || attempt >= len(retrySchedule) {
			return err
		}

		delay := retrySchedule[attempt]
		logger.Warn("rate limited by upstream, backing off",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return domain.WrapError(domain.CodeProviderUnavailable, "", "cancelled during backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
}
