package client

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffStrategy determines the delay before each retry attempt.
type BackoffStrategy interface {
	// NextDelay returns the delay before the given attempt (1-based).
	NextDelay(attempt int) time.Duration
	// MaxAttempts returns the maximum number of attempts.
	MaxAttempts() int
}

// ExponentialBackoff implements BackoffStrategy with exponential delay
// between attempts.
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	jitter       float64
	maxAttempts  int

	mu     sync.Mutex
	random *rand.Rand
}

// NewExponentialBackoff creates a new exponential backoff strategy with a
// factor of 2.0 and 20% jitter.
func NewExponentialBackoff(initialDelay, maxDelay time.Duration, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		factor:       2.0,
		jitter:       0.2,
		maxAttempts:  maxAttempts,
		random:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithFactor sets the exponential factor (default 2.0).
func (b *ExponentialBackoff) WithFactor(factor float64) *ExponentialBackoff {
	b.factor = factor
	return b
}

// WithJitter sets the jitter fraction used to randomize delays (default 0.2).
func (b *ExponentialBackoff) WithJitter(jitter float64) *ExponentialBackoff {
	b.jitter = jitter
	return b
}

// NextDelay implements BackoffStrategy.NextDelay.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(b.initialDelay) * math.Pow(b.factor, float64(attempt-1))

	if b.jitter > 0 {
		b.mu.Lock()
		offset := (b.random.Float64() - 0.5) * delay * b.jitter
		b.mu.Unlock()
		delay += offset
	}

	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	return time.Duration(delay)
}

// MaxAttempts implements BackoffStrategy.MaxAttempts.
func (b *ExponentialBackoff) MaxAttempts() int {
	return b.maxAttempts
}

// ConstantBackoff implements BackoffStrategy with a fixed delay between
// attempts. This is the strategy the connection orchestrator uses between
// connect cycles.
type ConstantBackoff struct {
	delay       time.Duration
	maxAttempts int
}

// NewConstantBackoff creates a new constant backoff strategy.
func NewConstantBackoff(delay time.Duration, maxAttempts int) *ConstantBackoff {
	return &ConstantBackoff{delay: delay, maxAttempts: maxAttempts}
}

// NextDelay implements BackoffStrategy.NextDelay.
func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.delay
}

// MaxAttempts implements BackoffStrategy.MaxAttempts.
func (b *ConstantBackoff) MaxAttempts() int {
	return b.maxAttempts
}
