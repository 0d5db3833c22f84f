package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-streamer/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type MarketStreamerError struct {
	Message string
	Cause   error
}

func (e *MarketStreamerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *MarketStreamerError) Unwrap() error {
	return e.Cause
}

// ConnectionError is a failed vendor handshake. Code carries the vendor error code when known.
type ConnectionError struct {
	MarketStreamerError
	Code int
}

// StreamError is a session that dropped while running.
type StreamError struct{ MarketStreamerError }

// SourceUnavailable is a failed watch-list poll. Callers treat it as "no change".
type SourceUnavailable struct{ MarketStreamerError }

// ValidationError is an observation missing required fields or rejected by a constraint.
type ValidationError struct{ MarketStreamerError }

// StorageError is a sink connectivity or execution failure.
type StorageError struct{ MarketStreamerError }

type ConfigurationError struct{ MarketStreamerError }

var (
	// ErrConnectionLimitExceeded is the vendor refusing a second concurrent session.
	// It must never be retried blindly.
	ErrConnectionLimitExceeded = errors.New("connection limit exceeded")

	// ErrShutdownTimeout means a session run lane outlived the shutdown grace period.
	ErrShutdownTimeout = errors.New("session did not stop within the shutdown grace period")

	ErrSessionStopped = errors.New("session stopped")
)

// -----------------------------------------------------------------------------

func NewConnectionError(message string, code int, cause error) *ConnectionError {
	return &ConnectionError{MarketStreamerError: MarketStreamerError{Message: message, Cause: cause}, Code: code}
}

func NewStreamError(message string, cause error) *StreamError {
	return &StreamError{MarketStreamerError{Message: message, Cause: cause}}
}

func NewSourceUnavailable(message string, cause error) *SourceUnavailable {
	return &SourceUnavailable{MarketStreamerError{Message: message, Cause: cause}}
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{MarketStreamerError{Message: message, Cause: cause}}
}

func NewStorageError(message string, cause error) *StorageError {
	return &StorageError{MarketStreamerError{Message: message, Cause: cause}}
}

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{MarketStreamerError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

// IsConnectionLimit reports whether err is, or wraps, a connection-limit rejection.
func IsConnectionLimit(err error) bool {
	return errors.Is(err, ErrConnectionLimitExceeded)
}

func IsSourceUnavailable(err error) bool {
	var target *SourceUnavailable
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times with exponential backoff.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries, lastErr)
}

// -----------------------------------------------------------------------------
// Backoff
// -----------------------------------------------------------------------------

// Backoff yields base, 2*base, 4*base, ... capped at max.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	delay := b.Base
	for i := 0; i < b.attempt && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	b.attempt++
	return delay
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempts() int {
	return b.attempt
}
