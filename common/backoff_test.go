package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffWait(t *testing.T) {
	backoff, err := NewBackoff(time.Millisecond, 10*time.Second)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, backoff.Wait(context.Background()))
	}
	require.Equal(t, 64*time.Millisecond, backoff.Timeout())
}

func TestBackoffReset(t *testing.T) {
	backoff, err := NewBackoff(time.Millisecond, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, backoff.Wait(context.Background()))
	backoff.Reset()
	require.Equal(t, time.Millisecond, backoff.Timeout())
}

func TestBackoffMaximum(t *testing.T) {
	backoff, err := NewBackoff(time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, backoff.Wait(context.Background()))
	}
	require.Equal(t, 10*time.Millisecond, backoff.Timeout())
}

func TestBackoffCanceled(t *testing.T) {
	backoff, err := NewBackoff(time.Hour, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, backoff.Wait(ctx), context.Canceled)
	require.Equal(t, time.Hour, backoff.Timeout())
}

func TestBackoffInvalid(t *testing.T) {
	_, err := NewBackoff(0, time.Second)
	require.Error(t, err)
	_, err = NewBackoff(time.Second, time.Millisecond)
	require.Error(t, err)
}
