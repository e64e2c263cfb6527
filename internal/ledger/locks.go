package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// LocalLocks is an in-process keyed mutex implementing domain.LockManager.
// Waiters block until the holder releases, ctx ends, or maxWait elapses.
type LocalLocks struct {
	mu      sync.Mutex
	held    map[string]chan struct{}
	maxWait time.Duration
}

// NewLocalLocks creates a LocalLocks. maxWait <= 0 waits until ctx is done.
func NewLocalLocks(maxWait time.Duration) *LocalLocks {
	return &LocalLocks{
		held:    make(map[string]chan struct{}),
		maxWait: maxWait,
	}
}

// Acquire obtains the lock for key. ttl is ignored: a local lock cannot
// outlive its process.
func (l *LocalLocks) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	var deadline <-chan time.Time
	if l.maxWait > 0 {
		t := time.NewTimer(l.maxWait)
		defer t.Stop()
		deadline = t.C
	}

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return l.releaser(key, ch), nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger: acquire %s: %w", key, ctx.Err())
		case <-deadline:
			return nil, fmt.Errorf("ledger: acquire %s: %w", key, domain.ErrLockHeld)
		}
	}
}

func (l *LocalLocks) releaser(key string, ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(ch)
		})
	}
}

var _ domain.LockManager = (*LocalLocks)(nil)
