package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	locker := NewMemoryLocker(time.Second)

	var (
		inside  int
		maxSeen int
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithResourceLock(context.Background(), "dr-smith", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestMemoryLockerBoundedWait(t *testing.T) {
	locker := NewMemoryLocker(20 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithResourceLock(context.Background(), "dr-smith", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	start := time.Now()
	err := locker.WithResourceLock(context.Background(), "dr-smith", func(ctx context.Context) error {
		return nil
	})
	close(release)

	require.ErrorIs(t, err, ErrNotAcquired)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryLockerIndependentResources(t *testing.T) {
	locker := NewMemoryLocker(10 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithResourceLock(context.Background(), "dr-smith", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := locker.WithResourceLock(context.Background(), "dr-jones", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestMemoryLockerHonorsContext(t *testing.T) {
	locker := NewMemoryLocker(time.Minute)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithResourceLock(context.Background(), "dr-smith", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := locker.WithResourceLock(ctx, "dr-smith", func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
