package governor

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"
)

// FetchFunc performs one upstream fetch and transforms the result into the
// final tool output.
type FetchFunc func(ctx context.Context) (string, error)

// Failure is returned by Retrier.Do when every permitted attempt failed or a
// non-transient error stopped the loop early.
type Failure struct {
	Attempts  int
	Transient bool
	Err       error
}

func (f *Failure) Error() string {
	if f == nil || f.Err == nil {
		return "unknown failure"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

var transientMarkers = []string{"too many requests", "rate limited"}

// IsTransient reports whether err looks like upstream throttling and is worth
// retrying. Classification is by message only.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retrier runs a fetch with bounded, jittered exponential backoff between
// transient failures.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	// JitterRatio bounds the uniform jitter added to each delay as a fraction
	// of that delay.
	JitterRatio float64

	Sleep   func(ctx context.Context, d time.Duration) error
	Rand    func() float64
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultJitterRatio is the upper bound of the jitter fraction.
const DefaultJitterRatio = 0.3

// Do calls fetch up to MaxRetries+1 times. The last error is returned wrapped
// in a *Failure. Context cancellation during a backoff ends the loop with the
// context error.
func (r *Retrier) Do(ctx context.Context, fetch FetchFunc) (string, error) {
	maxRetries := 0
	if r != nil && r.MaxRetries > 0 {
		maxRetries = r.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		value, err := fetch(ctx)
		if err == nil {
			return value, nil
		}
		// A step already retried on its own; its verdict stands.
		var settled *Failure
		if errors.As(err, &settled) {
			return "", settled
		}
		lastErr = err

		transient := IsTransient(err)
		if !transient || attempt >= maxRetries {
			return "", &Failure{Attempts: attempt + 1, Transient: transient, Err: err}
		}

		delay := r.Backoff(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return "", &Failure{Attempts: attempt + 1, Transient: true, Err: errors.Join(err, sleepErr)}
		}
	}

	return "", &Failure{Attempts: maxRetries + 1, Transient: IsTransient(lastErr), Err: lastErr}
}

// Backoff returns the delay before the attempt following attempt (0-based):
// base*2^attempt plus uniform jitter in [0, ratio*base*2^attempt].
func (r *Retrier) Backoff(attempt int) time.Duration {
	if r == nil || r.BaseDelay <= 0 {
		return 0
	}
	delay := float64(r.BaseDelay) * float64(uint64(1)<<uint(attempt))

	ratio := r.JitterRatio
	if ratio < 0 {
		ratio = 0
	}
	return time.Duration(delay + r.random()*ratio*delay)
}

func (r *Retrier) random() float64 {
	if r.Rand != nil {
		return r.Rand()
	}
	return rand.Float64()
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

type stepRetrierKey struct{}

func withStepRetrier(ctx context.Context, r *Retrier) context.Context {
	return context.WithValue(ctx, stepRetrierKey{}, r)
}

// Step runs one upstream call of a governed fetch. Inside Governor.Execute
// each step is retried on its own, so a transient failure in a later step
// does not repeat the steps that already succeeded. Outside a governed fetch
// call runs once.
func Step[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	r, _ := ctx.Value(stepRetrierKey{}).(*Retrier)
	if r == nil {
		return call(ctx)
	}

	var out T
	_, err := r.Do(ctx, func(ctx context.Context) (string, error) {
		v, err := call(ctx)
		if err != nil {
			return "", err
		}
		out = v
		return "", nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// SleepContext blocks the calling goroutine for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
