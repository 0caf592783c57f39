package dockerx

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mcpgate/internal/common"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped operation. It is distinguishable from the underlying
// failure that opened the circuit.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", common.ErrServiceUnavailable)

type breakerMode int

const (
	modeClosed breakerMode = iota
	modeOpen
	modeHalfOpen
)

// CircuitBreaker guards one class of daemon operations. It counts
// consecutive recoverable failures; at FailureThreshold it opens and fails
// fast until RecoveryTimeout has elapsed since the last failure, then lets
// exactly one trial call through. Breaker state is process-local.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu          sync.Mutex
	mode        breakerMode
	failures    int
	lastFailure time.Time
	trialActive bool

	// now is swappable for tests.
	now func() time.Time
}

func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Execute runs op under the breaker. Only failures the classifier considers
// recoverable count toward opening the circuit; client errors pass through
// without touching breaker state.
func (b *CircuitBreaker) Execute(op func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op()
	b.after(err)
	return err
}

func (b *CircuitBreaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == modeOpen {
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.mode = modeHalfOpen
			b.trialActive = false
			log.Printf("INFO: Circuit breaker %s transitioning to half-open", b.name)
		} else {
			return ErrCircuitOpen
		}
	}
	if b.mode == modeHalfOpen {
		if b.trialActive {
			// Another trial is already in flight.
			return ErrCircuitOpen
		}
		b.trialActive = true
	}
	return nil
}

func (b *CircuitBreaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsRecoverable(err) {
		if b.mode == modeHalfOpen {
			log.Printf("INFO: Circuit breaker %s closing after successful trial", b.name)
		}
		b.mode = modeClosed
		b.failures = 0
		b.trialActive = false
		return
	}

	b.failures++
	b.lastFailure = b.now()
	b.trialActive = false
	if b.mode == modeHalfOpen || b.failures >= b.failureThreshold {
		if b.mode != modeOpen {
			log.Printf("ERROR: Circuit breaker %s opened after %d failures", b.name, b.failures)
		}
		b.mode = modeOpen
	}
}

// Name returns the breaker's operation-class label.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns a debug snapshot of the breaker.
func (b *CircuitBreaker) State() (mode string, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.mode {
	case modeOpen:
		mode = "open"
	case modeHalfOpen:
		mode = "half-open"
	default:
		mode = "closed"
	}
	return mode, b.failures
}

// IsCircuitOpen reports whether err is the breaker's fail-fast rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
