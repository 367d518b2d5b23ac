package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker хранит аренды в памяти процесса. Подходит для одного экземпляра сервиса и тестов.
type LocalLocker struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	owners map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocalLocker создаёт LocalLocker со сроком аренды ttl.
func NewLocalLocker(ttl time.Duration) *LocalLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LocalLocker{
		ttl:    ttl,
		now:    time.Now,
		owners: make(map[string]localEntry),
	}
}

// Acquire захватывает аренду key или возвращает ErrHeld.
func (l *LocalLocker) Acquire(_ context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.owners[key]; ok && l.now().Before(e.expires) {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}

	token := uuid.NewString()
	l.owners[key] = localEntry{token: token, expires: l.now().Add(l.ttl)}
	return &localLease{locker: l, key: key, token: token}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  string
}

func (l *localLease) Refresh(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	e, ok := l.locker.owners[l.key]
	if !ok || e.token != l.token || !l.locker.now().Before(e.expires) {
		return fmt.Errorf("%w: %s", ErrLost, l.key)
	}
	e.expires = l.locker.now().Add(l.locker.ttl)
	l.locker.owners[l.key] = e
	return nil
}

func (l *localLease) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	e, ok := l.locker.owners[l.key]
	if !ok || e.token != l.token {
		return fmt.Errorf("%w: %s", ErrLost, l.key)
	}
	delete(l.locker.owners, l.key)
	return nil
}
