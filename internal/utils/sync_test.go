package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalRWMutex_Serializes(t *testing.T) {
	mutex := OptionalRWMutex{UseMutex: true}

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	mutex.RLock()
	defer mutex.RUnlock()
	require.Equal(t, 5000, counter)
}

func TestOptionalRWMutex_Disabled(t *testing.T) {
	mutex := OptionalRWMutex{}

	// Reentrant locking must not deadlock when the mutex is disabled
	mutex.Lock()
	mutex.Lock()
	mutex.RLock()
	mutex.RUnlock()
	mutex.Unlock()
	mutex.Unlock()
}
