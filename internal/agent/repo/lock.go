package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

// MemoryLocker serialises turns per thread inside one process. A Lock call
// waits up to wait for the holder before failing with ThreadBusy.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
	wait  time.Duration
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*lockSlot), wait: wait}
}

// Lock ignores ttl; a process-local lock dies with its holder.
func (l *MemoryLocker) Lock(ctx context.Context, threadID string, _ time.Duration) (model.UnlockFunc, error) {
	l.mu.Lock()
	s, ok := l.slots[threadID]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[threadID] = s
	}
	s.refs++
	l.mu.Unlock()

	if err := l.acquire(ctx, s, threadID); err != nil {
		l.release(threadID, s)
		return nil, err
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.release(threadID, s)
		})
		return nil
	}, nil
}

func (l *MemoryLocker) acquire(ctx context.Context, s *lockSlot, threadID string) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
	}
	if l.wait <= 0 {
		return errx.ThreadBusy(threadID)
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errx.ThreadBusy(threadID)
	}
}

func (l *MemoryLocker) release(threadID string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, threadID)
	}
}

var _ model.Locker = (*MemoryLocker)(nil)

// unlockScript deletes the lock only while it still holds our token.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLocker serialises turns per thread across processes with SET NX PX.
type RedisLocker struct {
	rdb    redis.Cmdable
	prefix string
	wait   time.Duration
	poll   time.Duration
}

func NewRedisLocker(rdb redis.Cmdable, wait time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "conversation:", wait: wait, poll: 50 * time.Millisecond}
}

func (l *RedisLocker) key(threadID string) string {
	return l.prefix + threadID + ":lock"
}

func (l *RedisLocker) Lock(ctx context.Context, threadID string, ttl time.Duration) (model.UnlockFunc, error) {
	key := l.key(threadID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis error acquiring lock: %w", errx.WrapRedis(err))
		}
		if ok {
			return func(ctx context.Context) error {
				if err := l.rdb.Eval(ctx, unlockScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
					return errx.WrapRedis(err)
				}
				return nil
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, errx.ThreadBusy(threadID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

var _ model.Locker = (*RedisLocker)(nil)
