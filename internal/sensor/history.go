package sensor

import "sync"

const DefaultHistoryCapacity = 100

// HistoryStore is a bounded, FIFO-eviction buffer of the most recent
// accepted readings, oldest first. Only the accept path writes to it;
// query callers read concurrently and always get copies.
type HistoryStore struct {
	mu       sync.RWMutex
	buffer   []Reading
	capacity int
}

func NewHistoryStore(capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryStore{
		buffer:   make([]Reading, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a reading at the tail, evicting the oldest entry first
// when the buffer is full.
func (s *HistoryStore) Append(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) >= s.capacity {
		copy(s.buffer, s.buffer[1:])
		s.buffer = s.buffer[:len(s.buffer)-1]
	}
	s.buffer = append(s.buffer, r)
}

// Recent returns the last n readings, most recent first. n is clamped
// to the current length.
func (s *HistoryStore) Recent(n int) []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.buffer) {
		n = len(s.buffer)
	}
	out := make([]Reading, n)
	for i := 0; i < n; i++ {
		out[i] = s.buffer[len(s.buffer)-1-i]
	}
	return out
}

// Latest returns the most recently appended reading, or false if the
// buffer is empty.
func (s *HistoryStore) Latest() (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.buffer) == 0 {
		return Reading{}, false
	}
	return s.buffer[len(s.buffer)-1], true
}

// PhSeries returns the pH values of the last n readings, oldest first,
// shaped for the trend predictor.
func (s *HistoryStore) PhSeries(n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.buffer) {
		n = len(s.buffer)
	}
	series := make([]float64, n)
	for i := 0; i < n; i++ {
		series[i] = s.buffer[len(s.buffer)-n+i].PH
	}
	return series
}

func (s *HistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffer)
}

// Clear empties the buffer and returns the number of readings removed.
func (s *HistoryStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.buffer)
	s.buffer = s.buffer[:0]
	return removed
}
