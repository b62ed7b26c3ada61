package ids

import (
	"sync"
	"testing"
)

func TestNewIsUniqueAndOrdered(t *testing.T) {
	const n = 1000
	seen := make(map[string]struct{}, n)
	prev := ""
	for i := 0; i < n; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if id <= prev {
			t.Fatalf("ids not monotonic: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestNewIsSafeForConcurrentUse(t *testing.T) {
	const workers, perWorker = 8, 200
	var (
		mu  sync.Mutex
		all = make(map[string]struct{}, workers*perWorker)
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, New())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				all[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
	if len(all) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(all))
	}
}
