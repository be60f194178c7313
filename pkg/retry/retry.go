package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxJitter    time.Duration
	// Retryable reports whether an error is worth another attempt.
	// Nil means every error except context cancellation is retried.
	Retryable func(error) bool
	Logger    *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		MaxJitter:    100 * time.Millisecond,
		Logger:       zap.NewNop(),
	}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return retrygo.Unrecoverable(err)
}

func Do(ctx context.Context, cfg Config, operation func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	cfg = withDefaults(cfg)

	return retrygo.DoWithData(
		operation,
		retrygo.Context(ctx),
		retrygo.Attempts(cfg.MaxAttempts),
		retrygo.Delay(cfg.InitialDelay),
		retrygo.MaxDelay(cfg.MaxDelay),
		retrygo.MaxJitter(cfg.MaxJitter),
		retrygo.DelayType(retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			if !retrygo.IsRecoverable(err) {
				return false
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			if cfg.Retryable != nil {
				return cfg.Retryable(err)
			}
			return true
		}),
		retrygo.OnRetry(func(n uint, err error) {
			cfg.Logger.Warn("Operation failed, retrying",
				zap.Error(err),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", cfg.MaxAttempts),
			)
		}),
	)
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = def.MaxJitter
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}
