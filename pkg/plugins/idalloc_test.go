package plugins

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDAllocator(t *testing.T) {
	t.Run("starts at one and is monotonic", func(t *testing.T) {
		ids := NewIDAllocator()

		assert.Equal(t, uint32(1), ids.Next())
		assert.Equal(t, uint32(2), ids.Next())
		assert.Equal(t, uint32(3), ids.Next())
	})

	t.Run("concurrent allocation yields unique IDs", func(t *testing.T) {
		ids := NewIDAllocator()

		const workers = 8
		const perWorker = 1000

		var mu sync.Mutex
		seen := make(map[uint32]struct{}, workers*perWorker)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				local := make([]uint32, 0, perWorker)
				for j := 0; j < perWorker; j++ {
					local = append(local, ids.Next())
				}
				mu.Lock()
				for _, id := range local {
					seen[id] = struct{}{}
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, seen, workers*perWorker)
		_, hasZero := seen[0]
		assert.False(t, hasZero)
	})
}
