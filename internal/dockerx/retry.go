package dockerx

import (
	"context"
	"log"
	"math"
	"math/rand/v2"
	"time"
)

// Retryer retries an operation with exponential backoff. The zero value is
// not useful; construct with DefaultRetryer or fill the fields explicitly.
type Retryer struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
	Jitter      bool
	// ShouldRetry decides whether a failure is worth retrying. A nil
	// predicate retries everything.
	ShouldRetry func(error) bool
}

// DefaultRetryer matches the gateway's standard policy for daemon calls:
// three attempts, 1s base delay, doubling, jittered, recoverable-only.
func DefaultRetryer() Retryer {
	return Retryer{
		MaxAttempts: 3,
		Delay:       time.Second,
		Backoff:     2.0,
		Jitter:      true,
		ShouldRetry: IsRecoverable,
	}
}

// Do runs op until it succeeds, the predicate rejects the failure, attempts
// are exhausted, or ctx is cancelled. The last failure is returned.
func (r Retryer) Do(ctx context.Context, name string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if r.ShouldRetry != nil && !r.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == r.MaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(r.Delay) * math.Pow(r.Backoff, float64(attempt)))
		if r.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}
		log.Printf("WARN: Attempt %d/%d failed for %s: %v. Retrying in %v...",
			attempt+1, r.MaxAttempts, name, lastErr, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	log.Printf("ERROR: All %d attempts failed for %s", r.MaxAttempts, name)
	return lastErr
}
