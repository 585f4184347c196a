package distlock

import (
	"context"
	"sync"
	"time"
)

// NewLocalFactory returns a Factory whose locks only exclude holders inside
// this process. It backs the in-memory storage driver and tests.
func NewLocalFactory() Factory {
	reg := &localRegistry{held: make(map[string]localHold)}
	return func(key string, ttl time.Duration) DistLock {
		return &localLock{reg: reg, key: key, ttl: ttl}
	}
}

type localHold struct {
	owner   *localLock
	expires time.Time
}

type localRegistry struct {
	mu   sync.Mutex
	held map[string]localHold
}

type localLock struct {
	reg *localRegistry
	key string
	ttl time.Duration
}

// Acquire takes the key if it is free or its previous hold has expired.
func (l *localLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()

	now := time.Now()
	if h, ok := l.reg.held[l.key]; ok && h.owner != l && now.Before(h.expires) {
		return false, nil
	}
	l.reg.held[l.key] = localHold{owner: l, expires: now.Add(l.ttl)}
	return true, nil
}

// Release frees the key if this lock still holds it.
func (l *localLock) Release(context.Context) error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if h, ok := l.reg.held[l.key]; ok && h.owner == l {
		delete(l.reg.held, l.key)
	}
	return nil
}
