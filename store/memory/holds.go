package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-debouncer/core"
)

// HoldStore keeps at most one retry hold per conversation.
type HoldStore struct {
	now   func() time.Time
	mu    sync.Mutex
	holds map[string]core.RetryHold
}

func newHoldStore(now func() time.Time) *HoldStore {
	return &HoldStore{now: now, holds: map[string]core.RetryHold{}}
}

func (s *HoldStore) Create(_ context.Context, hold core.RetryHold) error {
	conversationID := strings.TrimSpace(hold.ConversationID)
	if conversationID == "" {
		return core.ErrConversationIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.holds[conversationID]; exists {
		return core.HoldExistsError(conversationID)
	}
	now := s.now()
	hold.ConversationID = conversationID
	if hold.CreatedAt.IsZero() {
		hold.CreatedAt = now
	}
	hold.UpdatedAt = now
	s.holds[conversationID] = hold.Clone()
	return nil
}

func (s *HoldStore) Get(_ context.Context, conversationID string) (core.RetryHold, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold, ok := s.holds[strings.TrimSpace(conversationID)]
	if !ok {
		return core.RetryHold{}, false, nil
	}
	return hold.Clone(), true, nil
}

func (s *HoldStore) Update(_ context.Context, conversationID string, mutate func(*core.RetryHold) error) error {
	conversationID = strings.TrimSpace(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	hold, ok := s.holds[conversationID]
	if !ok {
		return core.NotFoundError("memory: retry hold not found", map[string]any{
			"conversation_id": conversationID,
		})
	}
	updated := hold.Clone()
	if mutate != nil {
		if err := mutate(&updated); err != nil {
			return err
		}
	}
	updated.ConversationID = conversationID
	updated.UpdatedAt = s.now()
	s.holds[conversationID] = updated
	return nil
}

func (s *HoldStore) Due(_ context.Context, now time.Time, limit int) ([]core.RetryHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]core.RetryHold, 0)
	for _, hold := range s.holds {
		if hold.Due(now) {
			due = append(due, hold.Clone())
		}
	}
	sortHolds(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *HoldStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, strings.TrimSpace(conversationID))
	return nil
}

func (s *HoldStore) List(context.Context) ([]core.RetryHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RetryHold, 0, len(s.holds))
	for _, hold := range s.holds {
		out = append(out, hold.Clone())
	}
	sortHolds(out)
	return out, nil
}

func sortHolds(holds []core.RetryHold) {
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].DueAt.Equal(holds[j].DueAt) {
			return holds[i].ConversationID < holds[j].ConversationID
		}
		return holds[i].DueAt.Before(holds[j].DueAt)
	})
}
