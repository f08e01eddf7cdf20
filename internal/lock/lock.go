// Package lock serializes booking operations per resource. Every state
// transition on a resource's timeline runs inside WithResourceLock so the
// overlap check and the write it guards can never interleave with a
// conflicting operation on the same resource.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when the bounded wait for a resource section
// expires. Callers surface it as a retryable busy condition.
var ErrNotAcquired = errors.New("resource lock not acquired")

type Locker interface {
	WithResourceLock(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error
}

type memoryLocker struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	maxWait time.Duration
}

// NewMemoryLocker returns an in-process locker for single-node deployments.
// Acquisition waits at most maxWait before giving up with ErrNotAcquired.
func NewMemoryLocker(maxWait time.Duration) Locker {
	return &memoryLocker{
		gates:   make(map[string]chan struct{}),
		maxWait: maxWait,
	}
}

func (l *memoryLocker) gate(resourceID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.gates[resourceID]
	if !ok {
		g = make(chan struct{}, 1)
		l.gates[resourceID] = g
	}
	return g
}

func (l *memoryLocker) WithResourceLock(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error {
	g := l.gate(resourceID)

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case g <- struct{}{}:
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g }()

	return fn(ctx)
}
