// Package retrier classifies failures and re-runs operations under a bounded
// retry policy.
package retrier

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/clock"
)

const (
	minMaxAttempts = 1
	minFactor      = 1.0
	maxJitter      = 1.0
)

// FixedBackoff waits the base delay between every attempt.
// ExponentialBackoff multiplies the delay by Factor per attempt.
// LinearBackoff grows the delay by the base delay per attempt.
const (
	FixedBackoff BackoffStrategy = iota
	ExponentialBackoff
	LinearBackoff
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must not be negative")
	// ErrInvalidFactor is returned when the factor parameter is invalid.
	ErrInvalidFactor = errors.New("factor must be at least 1.0")
	// ErrInvalidJitter is returned when the jitter parameter is invalid.
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

var tracer = otel.Tracer("goflare.io/aegis/retrier")

// BackoffStrategy defines how delays grow between consecutive attempts.
type BackoffStrategy int

// Backoff computes the delay before a retry.
type Backoff struct {
	Strategy  BackoffStrategy
	BaseDelay time.Duration
	// MaxDelay caps the computed delay; zero means uncapped.
	MaxDelay time.Duration
	// Factor is the exponential multiplier; values below 1 are treated as 2.
	Factor float64
	// Jitter adds up to Jitter*delay of random extra wait.
	Jitter float64
}

// Delay returns the wait after the given number of consecutive failures,
// counting from zero.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}

	var delay float64
	switch b.Strategy {
	case ExponentialBackoff:
		factor := b.Factor
		if factor < minFactor {
			factor = 2
		}
		delay = float64(b.BaseDelay) * math.Pow(factor, float64(failures))
	case LinearBackoff:
		delay = float64(b.BaseDelay) * float64(failures+1)
	default:
		delay = float64(b.BaseDelay)
	}

	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter > 0 {
		delay += rand.Float64() * b.Jitter * delay
	}
	if delay > float64(time.Hour) {
		delay = float64(time.Hour)
	}
	return time.Duration(delay)
}

// RetryContext describes the state of one Do call at a retry.
type RetryContext struct {
	Attempt     int
	MaxAttempts int
	LastError   *ClassifiedError
}

// Policy controls how Do retries. The zero Backoff strategy is fixed.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Backoff        BackoffStrategy
	MaxDelay       time.Duration
	Factor         float64
	Jitter         float64
	RetryCondition func(Class) bool
	OnRetry        func(RetryContext)

	Clock  clock.Clock
	Logger *zap.Logger
}

// DefaultPolicy retries transient failures three times, one second apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		Backoff:        FixedBackoff,
		RetryCondition: DefaultRetryCondition,
	}
}

// Once returns a policy that never retries. Every non-idempotent call site
// must use it so writes happen at most once.
func Once() Policy {
	return Policy{
		MaxAttempts:    1,
		RetryCondition: func(Class) bool { return false },
	}
}

// AtMostOnce reports whether the policy forbids retries.
func (p Policy) AtMostOnce() bool {
	return p.MaxAttempts <= 1
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.MaxAttempts < minMaxAttempts {
		return ErrInvalidMaxAttempts
	}
	if p.BaseDelay < 0 {
		return ErrInvalidBaseDelay
	}
	if p.Backoff == ExponentialBackoff && p.Factor != 0 && p.Factor < minFactor {
		return ErrInvalidFactor
	}
	if p.Jitter < 0 || p.Jitter > maxJitter {
		return ErrInvalidJitter
	}
	return nil
}

func (p Policy) backoff() Backoff {
	return Backoff{
		Strategy:  p.Backoff,
		BaseDelay: p.BaseDelay,
		MaxDelay:  p.MaxDelay,
		Factor:    p.Factor,
		Jitter:    p.Jitter,
	}
}

func (p Policy) shouldRetry(c Class) bool {
	if p.RetryCondition == nil {
		return DefaultRetryCondition(c)
	}
	return p.RetryCondition(c)
}

// Do runs op, retrying classified failures according to p. Failures that
// are not retryable, or that exhaust MaxAttempts, are returned at once as a
// *ClassifiedError wrapping op's error.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, span := tracer.Start(ctx, "retrier.Do", trace.WithAttributes(attribute.Int("max_attempts", p.MaxAttempts)))
	defer span.End()

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return result, nil
		}

		if inner, ok := err.(*ClassifiedError); ok {
			err = inner.Err
		}
		class := Classify(err)
		cerr := &ClassifiedError{Class: class, Attempts: attempt, Err: err}

		if !p.shouldRetry(class) || attempt >= p.MaxAttempts || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, class.String())
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.String("class", class.String()))
			return zero, cerr
		}

		if p.OnRetry != nil {
			p.OnRetry(RetryContext{Attempt: attempt, MaxAttempts: p.MaxAttempts, LastError: cerr})
		}

		delay := p.backoff().Delay(attempt - 1)
		logger.Debug("Retrying operation",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Stringer("class", class),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := clock.Sleep(ctx, c, delay); err != nil {
			return zero, err
		}
	}
}
