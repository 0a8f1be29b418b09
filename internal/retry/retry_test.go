package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func retryTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, 5*time.Millisecond, retryTransient, zap.NewNop())

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, 5*time.Millisecond, retryTransient, zap.NewNop())

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, 5*time.Millisecond, retryTransient, zap.NewNop())

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 3, calls)
}

func TestDoPermanentFailsImmediately(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, 5*time.Millisecond, retryTransient, zap.NewNop())

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errPermanent
	})
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	p := NewPolicy(5, 50*time.Millisecond, 100*time.Millisecond, retryTransient, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	require.LessOrEqual(t, calls, 2)
}
