package provenance

import (
	"runtime"
	"sync"
	"weak"
)

// table maps object identity to source text without retaining the object.
// Keys are weak.Pointer[T] values stored as any; two weak pointers made from
// the same object compare equal, and the entry is removed once the object dies.
type table struct {
	mu      sync.Mutex
	entries map[any]string
}

func newTable() *table {
	return &table{entries: make(map[any]string)}
}

func attach[T any](t *table, p *T, src string) {
	key := weak.Make(p)

	t.mu.Lock()
	_, existed := t.entries[key]
	t.entries[key] = src
	t.mu.Unlock()

	if !existed {
		runtime.AddCleanup(p, t.remove, any(key))
	}
}

func lookup[T any](t *table, p *T) (string, bool) {
	key := weak.Make(p)

	t.mu.Lock()
	defer t.mu.Unlock()
	src, ok := t.entries[key]
	return src, ok
}

func forget[T any](t *table, p *T) {
	t.remove(weak.Make(p))
}

func (t *table) remove(key any) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
