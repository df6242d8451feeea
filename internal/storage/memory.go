package storage

import (
	"sync"

	"roadsense/internal/models"
)

// MemoryStore is the single synchronized owner of the retention window
// and the mock-mode flag. The acquisition loop is the only writer; any
// number of API requests read it concurrently.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []models.Reading
	capacity int
	mockMode bool
}

// NewMemoryStore returns a store retaining the most recent capacity
// readings
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryStore{
		readings: make([]models.Reading, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a reading, evicting the oldest one when the window is
// full
func (s *MemoryStore) Push(r models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.readings) >= s.capacity {
		// Remove the oldest element
		s.readings = s.readings[1:]
	}
	s.readings = append(s.readings, r)
}

// Snapshot returns a copy of the retained readings, oldest first. The
// result is never nil so an empty window renders as [] in JSON.
func (s *MemoryStore) Snapshot() []models.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Reading, len(s.readings))
	copy(out, s.readings)
	return out
}

// Len returns the number of retained readings
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// SetMockMode records whether the active source is synthetic
func (s *MemoryStore) SetMockMode(mock bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mockMode = mock
}

// MockMode reports whether the active source is synthetic
func (s *MemoryStore) MockMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mockMode
}
