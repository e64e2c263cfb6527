package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
)

func TestLocalLocksExclusive(t *testing.T) {
	locks := NewLocalLocks(50 * time.Millisecond)
	ctx := context.Background()

	unlock, err := locks.Acquire(ctx, "k", 0)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := locks.Acquire(ctx, "other", 0)
	require.NoError(t, err, "different keys are independent")
	other()

	unlock()
	unlock() // second call is a no-op

	again, err := locks.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	again()
}

func TestLocalLocksWaiterWakes(t *testing.T) {
	locks := NewLocalLocks(time.Second)
	ctx := context.Background()

	unlock, err := locks.Acquire(ctx, "k", 0)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		u, err := locks.Acquire(ctx, "k", 0)
		if err == nil {
			u()
		}
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	unlock()
	assert.NoError(t, <-got)
}

func TestLocalLocksHonoursContext(t *testing.T) {
	locks := NewLocalLocks(0)
	unlock, err := locks.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
