package provider

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackrent/stackrent/internal/core/domain"
)

// zeroBackoff eliminates retry delays for the duration of a test.
func zeroBackoff(t *testing.T) {
	t.Helper()
	orig := retrySchedule
	retrySchedule = []time.Duration{0, 0}
	t.Cleanup(func() { retrySchedule = orig })
}

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), slog.Default(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesOnRateLimited(t *testing.T) {
	zeroBackoff(t)

	calls := 0
	err := withRetry(context.Background(), slog.Default(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.NewError(domain.CodeRateLimited, domain.KindDigitalOcean, "slow down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustsSchedule(t *testing.T) {
	zeroBackoff(t)

	calls := 0
	err := withRetry(context.Background(), slog.Default(), "op", func(ctx context.Context) error {
		calls++
		return domain.NewError(domain.CodeRateLimited, domain.KindHetzner, "slow down")
	})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeRateLimited))
	// One initial attempt plus one retry per schedule entry.
	assert.Equal(t, len(retrySchedule)+1, calls)
}

func TestWithRetry_NoRetryOnOtherCodes(t *testing.T) {
	zeroBackoff(t)

	calls := 0
	err := withRetry(context.Background(), slog.Default(), "op", func(ctx context.Context) error {
		calls++
		return domain.NewError(domain.CodeMissingCredentials, domain.KindAWS, "bad key")
	})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeMissingCredentials))
	assert.Equal(t, 1, calls)
}

func TestWithRetry_NoRetryOnPlainError(t *testing.T) {
	zeroBackoff(t)

	calls := 0
	wantErr := errors.New("boom")
	err := withRetry(context.Background(), slog.Default(), "op", func(ctx context.Context) error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_CancelledDuringBackoff(t *testing.T) {
	orig := retrySchedule
	retrySchedule = []time.Duration{time.Minute}
	t.Cleanup(func() { retrySchedule = orig })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- withRetry(ctx, slog.Default(), "op", func(ctx context.Context) error {
			return domain.NewError(domain.CodeRateLimited, domain.KindDigitalOcean, "slow down")
		})
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeProviderUnavailable))
	case <-time.After(5 * time.Second):
		t.Fatal("withRetry did not return after context cancellation")
	}
}
