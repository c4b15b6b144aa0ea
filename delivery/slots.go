package delivery

import (
	"sort"
	"sync"
)

// slotTracker owns the pool's concurrency budget and the set of conversations
// with a delivery in flight. Both are updated under one lock so a slot is
// never observed free while its conversation is still marked in flight.
type slotTracker struct {
	mu       sync.Mutex
	limit    int
	inFlight map[string]struct{}
}

func newSlotTracker(limit int) *slotTracker {
	if limit <= 0 {
		limit = 1
	}
	return &slotTracker{limit: limit, inFlight: map[string]struct{}{}}
}

func (s *slotTracker) TryAcquire(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inFlight) >= s.limit {
		return false
	}
	if _, busy := s.inFlight[conversationID]; busy {
		return false
	}
	s.inFlight[conversationID] = struct{}{}
	return true
}

func (s *slotTracker) Release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, conversationID)
}

func (s *slotTracker) Busy(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[conversationID]
	return busy
}

func (s *slotTracker) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight) >= s.limit
}

func (s *slotTracker) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

func (s *slotTracker) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
