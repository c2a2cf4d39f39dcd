package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

//go:embed scripts/unlock.lua
var unlockLua string

const unlockTimeout = 5 * time.Second

// LockManager is the market lock shared by every API instance. A lock is a
// key holding a random token with a TTL; only the holder's token deletes it.
// A holder that outlives its TTL loses the lock, and the store refuses its
// commit if another holder changed the market meanwhile.
type LockManager struct {
	c      *Client
	unlock *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, unlock: redis.NewScript(unlockLua)}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld when another
// holder has it; the engine retries until its context is done.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lm.c.key("lock", key)
	token := uuid.NewString()

	err := lm.c.rdb.SetArgs(ctx, k, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, domain.ErrLockHeld
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
			defer cancel()
			_ = lm.unlock.Run(ctx, lm.c.rdb, []string{k}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
