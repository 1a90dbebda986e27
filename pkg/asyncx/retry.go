package asyncx

import (
	"context"
	"time"
)

// Backoff describes exponentially growing delays.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff starts at 200ms and settles at 5s.
var DefaultBackoff = Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}

// Next returns the delay that follows prev. A zero prev yields Initial.
func (b Backoff) Next(prev time.Duration) time.Duration {
	if prev <= 0 {
		return b.Initial
	}
	m := b.Multiplier
	if m < 1 {
		m = 1
	}
	next := time.Duration(float64(prev) * m)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	return next
}

// RetryWithBackoff calls fn until it succeeds, retryIf rejects its error,
// attempts calls have been made or ctx is done. attempts <= 0 means no limit
// and a nil retryIf retries every error.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy Backoff,
	attempts int,
	retryIf func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	var (
		zero  T
		delay time.Duration
	)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if retryIf != nil && !retryIf(err) {
			return zero, err
		}
		if attempts > 0 && i >= attempts-1 {
			return zero, err
		}

		delay = policy.Next(delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
