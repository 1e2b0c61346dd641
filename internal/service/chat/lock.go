package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"findash/internal/logger"
	"findash/internal/redis"
)

// Locker hands out exclusive per-key locks. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once nobody holds
// or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*refMutex)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &refMutex{}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() { l.release(key, m) }, nil
	case <-ctx.Done():
		// the goroutine still owns the pending Lock, hand it back once it lands
		go func() {
			<-acquired
			l.release(key, m)
		}()
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, m *refMutex) {
	m.mu.Unlock()
	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 10 * time.Second
	lockRetryDelay  = 25 * time.Millisecond
)

// ErrLockTimeout is returned when a distributed lock could not be acquired in time.
var ErrLockTimeout = errors.New("session is busy")

// RedisLocker coordinates sessions across processes sharing one chat root.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	log    *logger.Logger
}

func NewRedisLocker(client *redis.Client, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    defaultLockTTL,
		wait:   defaultLockWait,
		log:    log.With("service", "RedisLocker"),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "chat:lock:" + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(lockRetryDelay)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if _, err := l.client.DelIfEquals(releaseCtx, redisKey, token); err != nil {
					l.log.Warn("Release session lock failed", "key", key, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}
