package agent

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"time"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

var (
	reRateLimit = regexp.MustCompile(`(?i)(?:rate limit|too many requests|rate.?limited|quota exceeded|429)`)
	reResetTime = regexp.MustCompile(`(?i)reset\s+(?:in\s+)?(\d+)\s*(seconds?|minutes?|hours?)`)
	reTryAgain  = regexp.MustCompile(`(?i)try\s+again\s+in\s+(\d+)\s*(seconds?|minutes?|hours?)`)
)

// RateLimitInfo describes a detected rate-limit condition.
type RateLimitInfo struct {
	IsLimited  bool          `json:"is_limited"`
	ResetAfter time.Duration `json:"reset_after"`
	Message    string        `json:"message"`
}

// ParseRateLimit scans backend output for rate-limit phrases and an optional
// reset hint. Returns nil, false when no rate limit is present.
func ParseRateLimit(output string) (*RateLimitInfo, bool) {
	if !reRateLimit.MatchString(output) {
		return nil, false
	}
	var resetAfter time.Duration
	if m := reResetTime.FindStringSubmatch(output); len(m) == 3 {
		resetAfter = parseResetDuration(m[1], m[2])
	} else if m := reTryAgain.FindStringSubmatch(output); len(m) == 3 {
		resetAfter = parseResetDuration(m[1], m[2])
	}
	return &RateLimitInfo{IsLimited: true, ResetAfter: resetAfter, Message: output}, true
}

func parseResetDuration(value, unit string) time.Duration {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	switch unit[0] | 0x20 {
	case 'h':
		return time.Duration(n) * time.Hour
	case 'm':
		return time.Duration(n) * time.Minute
	default:
		return time.Duration(n) * time.Second
	}
}

// Backoff configures the per-run retry policy for transient backend
// failures (rate limits and network errors).
type Backoff struct {
	// BaseWait is the first wait when the backend reports no reset time.
	BaseWait time.Duration

	// MaxWait caps the exponential growth.
	MaxWait time.Duration

	// MaxRetries bounds how many times a run is re-attempted. 0 disables
	// retries entirely.
	MaxRetries int

	// JitterFactor in [0,1] randomizes each wait to avoid synchronized
	// retries across workers.
	JitterFactor float64

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff returns the standard retry policy.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseWait:     30 * time.Second,
		MaxWait:      10 * time.Minute,
		MaxRetries:   3,
		JitterFactor: 0.1,
	}
}

// wait computes the delay before retry attempt (0-based), preferring the
// backend's own reset hint over the exponential schedule.
func (b Backoff) wait(attempt int, hint time.Duration) time.Duration {
	d := hint
	if d <= 0 {
		d = b.BaseWait << attempt
	}
	if b.MaxWait > 0 && d > b.MaxWait {
		d = b.MaxWait
	}
	if b.JitterFactor > 0 {
		jitter := time.Duration(rand.Float64() * b.JitterFactor * float64(d))
		d += jitter
	}
	return d
}

func (b Backoff) doSleep(ctx context.Context, d time.Duration) error {
	if b.sleep != nil {
		return b.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return werr.Wrap(werr.KindInterrupted, ctx.Err(), "backoff wait canceled")
	}
}

// Retry runs fn until it succeeds, fails non-transiently, or the retry
// budget is spent. Transient means a rate-limited result or an agent error
// classified as rate_limit or network.
func (b Backoff) Retry(ctx context.Context, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	var res *Result
	var err error
	for attempt := 0; ; attempt++ {
		res, err = fn(ctx)

		hint, transient := retryHint(res, err)
		if !transient || attempt >= b.MaxRetries {
			return res, err
		}
		if sleepErr := b.doSleep(ctx, b.wait(attempt, hint)); sleepErr != nil {
			return res, sleepErr
		}
	}
}

// retryHint reports whether the outcome is worth retrying and any
// backend-provided reset duration.
func retryHint(res *Result, err error) (time.Duration, bool) {
	if res != nil && res.WasRateLimited() {
		return res.RateLimit.ResetAfter, true
	}
	if err != nil && werr.KindOf(err) == werr.KindAgent {
		switch werr.SubkindOf(err) {
		case werr.SubRateLimit, werr.SubNetwork:
			return 0, true
		}
	}
	return 0, false
}
