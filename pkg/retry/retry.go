package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Outcome classifies a single attempt.
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Classifier maps a non-nil error to Retryable or Fatal.
type Classifier func(error) Outcome

type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	Classify       Classifier
	Logger         *zap.Logger
}

// Result is the typed outcome of Do. Err is nil only when Outcome is Success.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

func (r Result) OK() bool {
	return r.Outcome == Success
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         zap.NewNop(),
	}
}

// AlwaysRetry treats every error as transient, except context cancellation.
func AlwaysRetry(err error) Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	return Retryable
}

func Do(ctx context.Context, cfg Config, operation func(ctx context.Context) error) Result {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Classify == nil {
		cfg.Classify = AlwaysRetry
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Fatal, Attempts: attempt - 1, Err: err}
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return Result{Outcome: Success, Attempts: attempt}
		}

		lastErr = err

		if cfg.Classify(err) == Fatal {
			cfg.Logger.Debug("Error not retryable",
				zap.Error(err),
				zap.Int("attempt", attempt),
			)
			return Result{Outcome: Fatal, Attempts: attempt, Err: err}
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		cfg.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return Result{Outcome: Fatal, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(addJitter(delay, cfg.JitterFraction)):
		}

		delay = time.Duration(math.Min(float64(cfg.MaxDelay), float64(delay)*cfg.Multiplier))
	}

	return Result{
		Outcome:  Retryable,
		Attempts: cfg.MaxAttempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, cfg.MaxAttempts, lastErr),
	}
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func(ctx context.Context) (T, error)) (T, Result) {
	var value T
	res := Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		value, err = operation(ctx)
		return err
	})
	return value, res
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}

	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
