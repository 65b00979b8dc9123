package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock is a held distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
	ttl    time.Duration
}

// Locker hands out SET NX locks under a key prefix
type Locker struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
}

// NewLocker creates a Locker. ttl bounds how long a crashed holder blocks others;
// wait bounds how long WithLock retries before giving up.
func NewLocker(client *Client, keyPrefix string, ttl time.Duration, wait time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		wait:      wait,
	}
}

// Acquire makes a single attempt
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	return &Lock{
		client: l.client,
		key:    lockKey,
		value:  lockValue,
		ttl:    ttl,
	}, nil
}

// TryAcquire retries with capped exponential backoff until timeout
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond

	for {
		lock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff = backoff * 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
}

// Release deletes the lock only if this holder still owns it
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Extend resets the lock expiry if this holder still owns it
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.ttl = ttl
	return nil
}

// WithLock runs fn while holding key, waiting up to the locker's wait budget
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock, err := l.TryAcquire(ctx, key, l.ttl, l.wait)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("failed to release lock %s", lock.key)
		}
	}()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		lock.keepAlive(ctx, stop)
	}()
	defer func() {
		close(stop)
		<-done
	}()

	return fn(ctx)
}

// keepAlive extends the lock every half TTL until stop is closed
func (lock *Lock) keepAlive(ctx context.Context, stop <-chan struct{}) {
	if lock.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(lock.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, lock.ttl); err != nil {
				lock.client.logger.WithContext(ctx).WithError(err).Warnf("failed to extend lock %s", lock.key)
				return
			}
		}
	}
}
