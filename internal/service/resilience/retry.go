package resilience

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию для коротких CAS-повторов.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	if c.MaxDelay > 0 && c.InitialDelay > c.MaxDelay {
		c.InitialDelay = c.MaxDelay
	}
	return c
}

// Delay возвращает паузу перед попыткой attempt+1 (attempt считается с 1).
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}

// ShouldRetry решает, имеет ли смысл повторять операцию после ошибки.
type ShouldRetry func(err error) bool

// Do выполняет fn, повторяя её при ошибках, для которых shouldRetry вернул true.
// Возвращает последнюю ошибку; отмена контекста прерывает ожидание.
func Do(ctx context.Context, cfg RetryConfig, logger *log.Entry, operation string, shouldRetry ShouldRetry, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()
	if logger == nil {
		logger = log.New().WithField("component", "retry")
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Debug("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Debug("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": cfg.MaxAttempts,
		"error":        lastErr,
	}).Warn("operation failed after all retry attempts")
	return lastErr
}
