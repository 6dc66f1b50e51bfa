package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), 3, time.Millisecond, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("redis unavailable")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), 2, time.Millisecond, func() (int, error) {
		calls++
		return 0, errors.New("still down")
	})
	assert.EqualError(t, err, "still down")
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Retry(ctx, 5, time.Hour, func() (struct{}, error) {
		calls++
		return struct{}{}, errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_RejectsZeroAttempts(t *testing.T) {
	_, err := Retry(context.Background(), 0, time.Millisecond, func() (int, error) { return 1, nil })
	assert.Error(t, err)
}
