package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"gorm.io/gorm"
)

// Locker serializes session commits for one key across callers
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an in-process locker
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock implements Locker
func (km *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				km.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		km.release(key, l)
		return nil, &errs.Error{Code: errs.EUnavailable, Op: "session.Lock", Msg: "timed out waiting for session lock", Err: ctx.Err()}
	}
}

func (km *KeyedMutex) release(key string, l *keyedLock) {
	km.mu.Lock()
	defer km.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
}

// RedisLocker is a Locker shared by every replica through Redis. Locks expire
// after ttl so a crashed holder cannot wedge a tenant.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock implements Locker
func (rl *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	const op = "session.RedisLocker.Lock"
	key = "lock:" + key
	token := uuid.NewString()

	for {
		ok, err := rl.client.SetNX(ctx, key, token, rl.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "timed out waiting for session lock", Err: ctx.Err()}
			}
			return nil, &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "session lock unavailable", Err: err}
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, rl.client, []string{key}, token).Err()
			}, nil
		}

		t := time.NewTimer(rl.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "timed out waiting for session lock", Err: ctx.Err()}
		case <-t.C:
		}
	}
}

// advisoryLock takes a transaction-scoped postgres advisory lock on key. Other
// dialects rely on the Locker alone.
func advisoryLock(tx *gorm.DB, key string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}
