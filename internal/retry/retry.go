// Package retry runs an operation a bounded number of times with a fixed delay
// between failed attempts. Only not-ready failures are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/failure"
)

// Policy is pure configuration: how many attempts and how long to wait between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Validate rejects policies that would never run the operation.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy needs at least one attempt, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", p.Delay)
	}
	return nil
}

// Capturer records a diagnostic artifact for op and returns its path.
type Capturer interface {
	Capture(ctx context.Context, op string) (string, error)
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context, op string) (string, error)

func (f CapturerFunc) Capture(ctx context.Context, op string) (string, error) { return f(ctx, op) }

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type options struct {
	capturer Capturer
	sleep    Sleeper
	logger   *zap.Logger
}

// Option configures Do.
type Option func(*options)

// WithCapturer sets the capturer used once on exhaustion.
func WithCapturer(c Capturer) Option {
	return func(o *options) { o.capturer = c }
}

// WithLogger sets the logger for attempt events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSleeper replaces the inter-attempt wait.
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy's
// attempts are used up. attempt is 1-based.
//
// On exhaustion exactly one artifact is captured and the returned failure has
// Kind NotReady, names op, and carries the attempt count and artifact path.
// Errors that are not NotReady are returned unchanged and immediately, without
// an artifact.
func Do[T any](ctx context.Context, op string, policy Policy, fn func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, err
	}

	o := options{sleep: sleepContext, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("op", op))

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retry.", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		if !failure.Retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		logger.Warn("Attempt not ready, retrying.",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", policy.Delay),
		)
		if err := o.sleep(ctx, policy.Delay); err != nil {
			return zero, err
		}
	}

	exhausted := &failure.Error{
		Kind:     failure.KindNotReady,
		Op:       op,
		Attempts: policy.MaxAttempts,
		Err:      unwrapNotReady(lastErr),
	}
	if o.capturer != nil {
		path, err := o.capturer.Capture(ctx, op)
		if err != nil {
			logger.Warn("Failed to capture diagnostic artifact.", zap.Error(err))
		}
		exhausted.Artifact = path
	}
	logger.Error("Retry attempts exhausted.",
		zap.Int("attempts", policy.MaxAttempts),
		zap.String("artifact", exhausted.Artifact),
		zap.Error(lastErr),
	)
	return zero, exhausted
}

// unwrapNotReady strips the per-attempt NotReady wrapper so the exhausted error
// does not describe the same condition twice.
func unwrapNotReady(err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Kind == failure.KindNotReady && fe.Err != nil {
		return fe.Err
	}
	return err
}
