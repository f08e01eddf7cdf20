package session

import (
	"context"
	"sync"
	"time"
)

type memoryTracker struct {
	mu       sync.RWMutex
	sessions map[string]Context
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryTracker returns an in-process tracker whose sessions expire after
// ttl of inactivity. A janitor goroutine sweeps expired entries; call Close
// to stop it.
func NewMemoryTracker(ttl, sweepInterval time.Duration) *memoryTracker {
	t := &memoryTracker{
		sessions: make(map[string]Context),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go t.janitor(sweepInterval)
	return t
}

func (t *memoryTracker) Get(ctx context.Context, sessionID string) (*Context, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sc, ok := t.sessions[sessionID]
	if !ok || t.expired(sc, time.Now()) {
		return nil, ErrSessionNotFound
	}
	out := sc
	return &out, nil
}

func (t *memoryTracker) Put(ctx context.Context, sc *Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stored := *sc
	stored.UpdatedAt = time.Now().UTC()
	t.sessions[sc.SessionID] = stored
	return nil
}

func (t *memoryTracker) Delete(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, sessionID)
	return nil
}

func (t *memoryTracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *memoryTracker) expired(sc Context, now time.Time) bool {
	return t.ttl > 0 && now.Sub(sc.UpdatedAt) > t.ttl
}

func (t *memoryTracker) janitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			for id, sc := range t.sessions {
				if t.expired(sc, now) {
					delete(t.sessions, id)
				}
			}
			t.mu.Unlock()
		}
	}
}
