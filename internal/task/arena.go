package task

import "sync"

// Arena is the single owner of Task records for one task kind (LoadImage,
// LoadImageData, DecodeImage, or ProcessImage), keyed by that kind's
// coalescing key. Tasks are looked up by stable string identifier rather
// than shared directly by pointer between the pipeline and its task graph,
// so a cancelled task is simply removed from the map instead of requiring
// cycle-breaking teardown logic.
type Arena[V any] struct {
	mu    sync.Mutex
	tasks map[string]*Task[V]
}

// NewArena creates an empty Arena.
func NewArena[V any]() *Arena[V] {
	return &Arena[V]{tasks: make(map[string]*Task[V])}
}

// GetOrCreate returns the existing task for key if one is live, or builds
// a new one via start and registers it. The bool result reports whether
// an existing task was reused (true means this subscription will
// coalesce with whatever is already in flight).
//
// If dedup is false, a fresh, unshared task is always created (and never
// registered in the arena), so a caller that asked to skip coalescing
// always gets its own task.
func (a *Arena[V]) GetOrCreate(key string, dedup bool, start StartFunc[V]) (t *Task[V], reused bool) {
	if !dedup {
		return New(key, start), false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.tasks[key]; ok {
		return existing, true
	}

	t = New(key, start)
	t.OnCancel(func() { a.remove(key, t) })
	a.tasks[key] = t
	return t, false
}

func (a *Arena[V]) remove(key string, expect *Task[V]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tasks[key] == expect {
		delete(a.tasks, key)
	}
}

// Len returns the number of live (coalesced) tasks, for tests and metrics.
func (a *Arena[V]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}
