package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loykin/apigw/internal/common"
)

// RetryConfig holds configuration for database write retries
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []string // substrings that mark an error as retryable
}

// DefaultRetryConfig returns the retry configuration used for run recording
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []string{
			"connection refused",
			"connection reset",
			"database is locked",
			"sqlite_busy",
			"deadlock",
			"broken pipe",
		},
	}
}

func (rc *RetryConfig) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range rc.RetryableErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (rc *RetryConfig) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return rc.InitialDelay
	}
	d := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.BackoffFactor, float64(attempt-1)))
	if d > rc.MaxDelay {
		d = rc.MaxDelay
	}
	return d
}

// withRetry runs op, retrying retryable failures with exponential backoff.
func withRetry(ctx context.Context, rc *RetryConfig, op func() error) error {
	if rc == nil {
		rc = DefaultRetryConfig()
	}
	logger := common.GetLogger().WithComponent("store-retry")

	var lastErr error
	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			if attempt > 0 {
				logger.Info("database operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err
		if attempt == rc.MaxRetries || !rc.isRetryable(err) {
			break
		}

		d := rc.delay(attempt)
		logger.Warn("database operation failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", rc.MaxRetries+1,
			"retry_delay", d)
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
		case <-time.After(d):
		}
	}
	return lastErr
}
