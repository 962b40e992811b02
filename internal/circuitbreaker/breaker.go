package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/localipc/internal/metrics"
)

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents circuit breaker state
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker implements circuit breaker pattern
type Breaker struct {
	name        string
	maxFailures int64
	timeout     time.Duration
	mu          sync.RWMutex
	state       int32 // State (atomic)
	failures    int64 // Failure count (atomic)
	lastFailure time.Time
}

// NewBreaker creates a new circuit breaker. name labels its state metric.
func NewBreaker(name string, maxFailures int64, timeout time.Duration) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       int32(StateClosed),
	}
	b.publish(StateClosed)
	return b
}

// Allow checks if the circuit breaker allows the request
func (b *Breaker) Allow() bool {
	state := State(atomic.LoadInt32(&b.state))

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		b.mu.RLock()
		lastFailure := b.lastFailure
		b.mu.RUnlock()
		if time.Since(lastFailure) >= b.timeout {
			if atomic.CompareAndSwapInt32(&b.state, int32(StateOpen), int32(StateHalfOpen)) {
				atomic.StoreInt64(&b.failures, 0)
				b.publish(StateHalfOpen)
				return true
			}
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful request
func (b *Breaker) RecordSuccess() {
	if atomic.CompareAndSwapInt32(&b.state, int32(StateHalfOpen), int32(StateClosed)) {
		atomic.StoreInt64(&b.failures, 0)
		b.publish(StateClosed)
	}
}

// RecordFailure records a failed request. A failure while half-open opens
// the breaker again at once.
func (b *Breaker) RecordFailure() {
	failures := atomic.AddInt64(&b.failures, 1)
	b.mu.Lock()
	b.lastFailure = time.Now()
	b.mu.Unlock()

	if failures >= b.maxFailures || State(atomic.LoadInt32(&b.state)) == StateHalfOpen {
		atomic.StoreInt32(&b.state, int32(StateOpen))
		b.publish(StateOpen)
	}
}

// Do runs fn when the breaker allows it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state
func (b *Breaker) State() State {
	return State(atomic.LoadInt32(&b.state))
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) publish(s State) {
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(s))
}
