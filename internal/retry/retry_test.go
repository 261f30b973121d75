package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Base: time.Millisecond, Max: 2 * time.Millisecond}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := DoWithPolicy(context.Background(), fast, 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := DoWithPolicy(context.Background(), fast, 2, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "failed after 2 attempts")
	assert.Equal(t, 2, calls)

	calls = 0
	err = DoWithPolicy(context.Background(), fast, 0, func(context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err, "single attempt returns the error unwrapped")
	assert.Equal(t, 1, calls)
}

func TestDo_Permanent(t *testing.T) {
	bad := errors.New("bad args")
	calls := 0
	err := DoWithPolicy(context.Background(), fast, 5, func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	assert.Equal(t, bad, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(Permanent(bad)))
	assert.False(t, IsPermanent(bad))
	assert.Nil(t, Permanent(nil))
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := DoWithPolicy(ctx, Policy{Base: time.Hour}, 3, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "transient")
	assert.Equal(t, 1, calls)

	calls = 0
	err = Do(ctx, 3, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(50))
	assert.Zero(t, Policy{}.Backoff(2))
}
