// Package seen implements the bounded recently-seen id set used to drop
// duplicate deliveries.
package seen

import "sync"

// DefaultCapacity bounds the set when no capacity is given.
const DefaultCapacity = 100

// Set remembers the most recent ids. When full, the oldest insertion is
// evicted first.
type Set struct {
	mu    sync.Mutex
	ring  []string
	next  int
	size  int
	index map[string]struct{}
}

// New creates a set holding at most capacity ids.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Add records id. It returns false when id was already present, which
// callers treat as a duplicate.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return false
	}
	if s.size == len(s.ring) {
		delete(s.index, s.ring[s.next])
	} else {
		s.size++
	}
	s.ring[s.next] = id
	s.index[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}

// Contains reports whether id is remembered.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Len returns the number of remembered ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Capacity returns the bound.
func (s *Set) Capacity() int {
	return len(s.ring)
}
