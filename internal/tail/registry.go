// Package tail reads the growth of append-only transcript files.
package tail

import "sync"

// Registry stores, per file, the byte offset up to which it has been
// read. It is the ground truth for "what is new" and lives only in memory.
type Registry struct {
	mu      sync.Mutex
	cursors map[string]int64
	locks   map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		cursors: make(map[string]int64),
		locks:   make(map[string]*pathLock),
	}
}

// Cursor returns the recorded offset for path, 0 if unseen.
func (r *Registry) Cursor(path string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[path]
}

// Known reports whether path has a recorded cursor.
func (r *Registry) Known(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cursors[path]
	return ok
}

// SetCursor records offset for path. Negative offsets are clamped to 0.
func (r *Registry) SetCursor(path string, offset int64) {
	if offset < 0 {
		offset = 0
	}
	r.mu.Lock()
	r.cursors[path] = offset
	r.mu.Unlock()
}

// Forget drops the cursor for path.
func (r *Registry) Forget(path string) {
	r.mu.Lock()
	delete(r.cursors, path)
	r.mu.Unlock()
}

// Len returns the number of tracked paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cursors)
}

// Paths returns a snapshot of tracked paths.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.cursors))
	for path := range r.cursors {
		paths = append(paths, path)
	}
	return paths
}

// Lock enters the critical section for path and returns its release func.
// Holders may read and advance the cursor without racing another reader of
// the same file; different paths never contend.
func (r *Registry) Lock(path string) func() {
	r.mu.Lock()
	l, ok := r.locks[path]
	if !ok {
		l = &pathLock{}
		r.locks[path] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, path)
		}
		r.mu.Unlock()
	}
}
