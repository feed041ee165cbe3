package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrPermanent marks a send failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent send failure")

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
		},
	}
}

// SendError is a failure reported by the chat transport.
type SendError struct {
	Code       int
	Message    string
	RetryAfter int // seconds, set on 429
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send error %d: %s", e.Code, e.Message)
}

// IsSendError checks if the error is a SendError.
func IsSendError(err error) (*SendError, bool) {
	var sErr *SendError
	if errors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}

// DelivererConfig configures outbound pacing.
type DelivererConfig struct {
	// RatePerSecond is the sustained number of sends per second.
	RatePerSecond float64
	// Burst is the number of sends allowed at once.
	Burst int
	Retry RetryConfig
}

// DefaultDelivererConfig stays under Telegram's bulk limit of 30 messages per second.
func DefaultDelivererConfig() DelivererConfig {
	return DelivererConfig{
		RatePerSecond: 20,
		Burst:         20,
		Retry:         DefaultRetryConfig(),
	}
}

// Deliverer paces and retries outbound sends for the loops.
type Deliverer struct {
	limiter *rate.Limiter
	retry   RetryConfig
	metrics *Metrics
	logger  Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDeliverer creates a deliverer. metrics may be nil.
func NewDeliverer(cfg DelivererConfig, metrics *Metrics, logger Logger) *Deliverer {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultDelivererConfig().RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Deliverer{
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		retry:   cfg.Retry,
		metrics: metrics,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Deliver runs send, waiting for the rate limiter before every attempt.
// 429 waits for RetryAfter; 400 and 403 fail at once with ErrPermanent.
func (d *Deliverer) Deliver(ctx context.Context, loop, key string, send func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= d.retry.MaxRetries; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := send(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		sErr, isSendErr := IsSendError(err)
		if isSendErr && (sErr.Code == 400 || sErr.Code == 403) {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		if attempt == d.retry.MaxRetries {
			break
		}

		delay := d.delay(attempt)
		if isSendErr && sErr.Code == 429 {
			if sErr.RetryAfter > 0 {
				delay = time.Duration(sErr.RetryAfter) * time.Second
			}
			d.logger.Info("rate limited by transport, waiting",
				"loop", loop, "key", key, "retry_after", delay, "attempt", attempt)
		}

		d.metrics.incRetry(loop)
		d.logger.Debug("retrying send",
			"loop", loop, "key", key, "attempt", attempt+1, "delay", delay, "error", err)
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (d *Deliverer) delay(attempt int) time.Duration {
	if attempt < len(d.retry.RetryDelays) {
		return d.retry.RetryDelays[attempt]
	}
	if n := len(d.retry.RetryDelays); n > 0 {
		return d.retry.RetryDelays[n-1]
	}
	return time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
