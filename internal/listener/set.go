// Package listener provides a small registry of event callbacks with
// per-registration unsubscribe functions.
package listener

import "sync"

type entry[F any] struct {
	id int
	fn F
}

// Set holds callbacks of type F in registration order.
// The zero value is ready to use.
type Set[F any] struct {
	mu      sync.Mutex
	nextID  int
	entries []entry[F]
}

// Add registers fn and returns a function that removes it. The returned
// function is idempotent.
func (s *Set[F]) Add(fn F) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, entry[F]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Set[F]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// Snapshot returns the registered callbacks. Callers invoke them without
// holding the set's lock, so a callback may unsubscribe itself.
func (s *Set[F]) Snapshot() []F {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]F, len(s.entries))
	for i, e := range s.entries {
		fns[i] = e.fn
	}
	return fns
}

// Len returns the number of registered callbacks.
func (s *Set[F]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes every callback.
func (s *Set[F]) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
