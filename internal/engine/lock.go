package engine

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// LocalLocks is an in-process keyed mutex. Acquire blocks until the key is
// free or ctx is done; the ttl is ignored.
type LocalLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

var _ domain.LockManager = (*LocalLocks)(nil)

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{slots: make(map[string]*lockSlot)}
}

func (l *LocalLocks) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *LocalLocks) release(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
