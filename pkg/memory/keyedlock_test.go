package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	locks := NewKeyedLock()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			locks.Lock("scope-a")
			defer locks.Unlock("scope-a")

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestKeyedLockAllowsDistinctKeys(t *testing.T) {
	locks := NewKeyedLock()

	locks.Lock("scope-a")
	done := make(chan struct{})

	go func() {
		locks.Lock("scope-b")
		locks.Unlock("scope-b")
		close(done)
	}()

	<-done
	locks.Unlock("scope-a")
}

func TestKeyedLockPanicsOnUnheldUnlock(t *testing.T) {
	locks := NewKeyedLock()

	assert.Panics(t, func() {
		locks.Unlock("never-locked")
	})
}
