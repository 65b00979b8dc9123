package registry

import (
	"context"
	"sync"
)

// localLocker serializes per-form writers inside one process. It is the fallback when
// no distributed Locker is configured.
type localLocker struct {
	mu    sync.Mutex
	forms map[string]chan struct{}
}

func newLocalLocker() *localLocker {
	return &localLocker{forms: map[string]chan struct{}{}}
}

func (l *localLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.forms[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.forms[key] = ch
	}
	return ch
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	slot := l.slot(key)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slot }()

	return fn(ctx)
}
