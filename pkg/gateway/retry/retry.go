// Package retry runs one gateway exchange with rate limiting, a per-attempt
// timeout, and exponential backoff between transient failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"golang.org/x/time/rate"
)

type Options struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries     int
	RequestTimeout time.Duration

	// Limiter is shared by every caller of one gateway. Nil disables limiting.
	Limiter *rate.Limiter

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	// Retryable overrides IsTransient.
	Retryable func(error) bool
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	if o.Retryable == nil {
		o.Retryable = IsTransient
	}
	return o
}

// NewLimiter returns a limiter for rps requests per second, or nil when rps <= 0.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Do calls fn until it succeeds, fails permanently, or retries run out.
// attempts is the number of calls made.
func Do[T any](ctx context.Context, opts Options, fn func(context.Context) (T, error)) (out T, attempts int, err error) {
	opts = opts.withDefaults()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, attempts, err
		}
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				return out, attempts, err
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		}
		attempts++
		out, err = fn(reqCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, attempts, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return out, attempts, ctx.Err()
		}
		if !opts.Retryable(err) || attempt >= opts.MaxRetries {
			return out, attempts, err
		}

		sleep := Backoff(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return out, attempts, ctx.Err()
		}
	}
}

// IsTransient reports errors worth another attempt: explicit TransientError,
// per-attempt deadlines, and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Backoff doubles initial per attempt up to max, then applies +/- jitterFrac.
func Backoff(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
