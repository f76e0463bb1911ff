package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

func TestParseRateLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		output     string
		limited    bool
		resetAfter time.Duration
	}{
		{"no limit", "all good, proceeding", false, 0},
		{"phrase only", "Error: rate limit exceeded", true, 0},
		{"reset seconds", "Rate limited. Reset in 30 seconds.", true, 30 * time.Second},
		{"try again minutes", "Too many requests, try again in 5 minutes", true, 5 * time.Minute},
		{"reset hours", "rate-limited, reset in 2 hours", true, 2 * time.Hour},
		{"status code", "upstream returned 429", true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			info, ok := ParseRateLimit(tc.output)
			assert.Equal(t, tc.limited, ok)
			if tc.limited {
				require.NotNil(t, info)
				assert.True(t, info.IsLimited)
				assert.Equal(t, tc.resetAfter, info.ResetAfter)
			}
		})
	}
}

func TestBackoffRetryOnRateLimit(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	b := Backoff{
		BaseWait:   time.Second,
		MaxWait:    time.Minute,
		MaxRetries: 3,
		sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}

	calls := 0
	res, err := b.Retry(context.Background(), func(context.Context) (*Result, error) {
		calls++
		if calls < 3 {
			return &Result{RateLimit: &RateLimitInfo{IsLimited: true, ResetAfter: 7 * time.Second}},
				werr.New(werr.KindAgent, "limited").WithSub(werr.SubRateLimit)
		}
		return &Result{Success: true}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
	require.Len(t, waits, 2)
	assert.Equal(t, 7*time.Second, waits[0], "backend reset hint wins over the schedule")
}

func TestBackoffExponentialSchedule(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	b := Backoff{
		BaseWait:   time.Second,
		MaxWait:    3 * time.Second,
		MaxRetries: 3,
		sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}

	_, err := b.Retry(context.Background(), func(context.Context) (*Result, error) {
		return nil, werr.New(werr.KindAgent, "flaky").WithSub(werr.SubNetwork)
	})
	require.Error(t, err)
	require.Len(t, waits, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, waits,
		"doubles then caps at MaxWait")
}

func TestBackoffDoesNotRetryNonTransient(t *testing.T) {
	t.Parallel()

	b := DefaultBackoff()
	b.sleep = func(context.Context, time.Duration) error {
		t.Fatal("must not sleep for a non-transient failure")
		return nil
	}

	calls := 0
	_, err := b.Retry(context.Background(), func(context.Context) (*Result, error) {
		calls++
		return nil, werr.New(werr.KindAgent, "bad key").WithSub(werr.SubAuth)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffZeroRetries(t *testing.T) {
	t.Parallel()

	b := Backoff{MaxRetries: 0}
	calls := 0
	_, err := b.Retry(context.Background(), func(context.Context) (*Result, error) {
		calls++
		return nil, werr.New(werr.KindAgent, "limited").WithSub(werr.SubRateLimit)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
