package helpers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConnectionLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"handshake rejection", NewConnectionError("limit", 406, ErrConnectionLimitExceeded), true},
		{"mid-stream rejection", NewStreamError("limit", ErrConnectionLimitExceeded), true},
		{"wrapped", fmt.Errorf("equity: %w", NewStreamError("limit", ErrConnectionLimitExceeded)), true},
		{"auth failure", NewConnectionError("auth failed", 402, nil), false},
		{"plain drop", NewStreamError("EOF", errors.New("EOF")), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionLimit(tt.err))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	cause := errors.New("boom")

	assert.True(t, IsSourceUnavailable(fmt.Errorf("poll: %w", NewSourceUnavailable("db", cause))))
	assert.True(t, IsValidation(NewValidationError("missing symbol", nil)))
	assert.True(t, IsStorage(NewStorageError("down", cause)))
	assert.False(t, IsStorage(NewValidationError("missing symbol", nil)))

	err := NewStorageError("insert failed", cause)
	assert.Equal(t, "insert failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bare", NewStreamError("bare", nil).Error())
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next()}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, got)
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, time.Second, b.Next())

	capped := NewBackoff(10*time.Second, time.Second)
	assert.Equal(t, 10*time.Second, capped.Next(), "max below base is raised to base")
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), nil, "connect", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryWithBackoff(context.Background(), nil, "connect", 2, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect failed after 2 attempts")
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RetryWithBackoff(ctx, nil, "connect", 5, time.Hour, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}
