package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-debouncer/core"
)

type BufferStore struct {
	now                func() time.Time
	notificationBuffer int

	mu      sync.Mutex
	buffers map[string]*bufferEntry

	subMu       sync.Mutex
	subscribers map[int]chan string
	nextSub     int
	closed      bool
}

type bufferEntry struct {
	buffer core.ConversationBuffer
	timer  *time.Timer
}

func newBufferStore(now func() time.Time, notificationBuffer int) *BufferStore {
	return &BufferStore{
		now:                now,
		notificationBuffer: notificationBuffer,
		buffers:            map[string]*bufferEntry{},
		subscribers:        map[int]chan string{},
	}
}

func (s *BufferStore) Append(
	_ context.Context,
	conversationID string,
	message any,
	metadata map[string]any,
	ttl time.Duration,
) (core.ConversationBuffer, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return core.ConversationBuffer{}, core.ErrConversationIDRequired
	}
	if ttl <= 0 {
		return core.ConversationBuffer{}, core.ConfigError("memory: ttl must be positive", map[string]any{
			"conversation_id": conversationID,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.buffers[conversationID]
	if !ok {
		entry = &bufferEntry{buffer: core.ConversationBuffer{
			ConversationID: conversationID,
			CreatedAt:      now,
		}}
		s.buffers[conversationID] = entry
	}
	entry.buffer.Messages = append(entry.buffer.Messages, message)
	entry.buffer.Metadata = core.CloneMetadata(metadata)
	entry.buffer.RetryCount = 0
	entry.buffer.Revision++
	entry.buffer.ExpiresAt = now.Add(ttl)
	entry.buffer.UpdatedAt = now

	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(ttl, func() {
		s.notify(conversationID)
	})
	return entry.buffer.Clone(), nil
}

func (s *BufferStore) Get(_ context.Context, conversationID string) (core.ConversationBuffer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.buffers[strings.TrimSpace(conversationID)]
	if !ok {
		return core.ConversationBuffer{}, false, nil
	}
	return entry.buffer.Clone(), true, nil
}

func (s *BufferStore) Release(_ context.Context, conversationID string, revision int64, consumed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID = strings.TrimSpace(conversationID)
	entry, ok := s.buffers[conversationID]
	if !ok {
		return nil
	}
	if entry.buffer.Revision == revision {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.buffers, conversationID)
		return nil
	}
	if consumed > len(entry.buffer.Messages) {
		consumed = len(entry.buffer.Messages)
	}
	if consumed > 0 {
		entry.buffer.Messages = append([]any(nil), entry.buffer.Messages[consumed:]...)
	}
	return nil
}

func (s *BufferStore) Expired(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type candidate struct {
		id        string
		expiresAt time.Time
	}
	candidates := make([]candidate, 0)
	for id, entry := range s.buffers {
		if entry.buffer.Expired(now) {
			candidates = append(candidates, candidate{id: id, expiresAt: entry.buffer.ExpiresAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].expiresAt.Equal(candidates[j].expiresAt) {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].expiresAt.Before(candidates[j].expiresAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	ids := make([]string, 0, len(candidates))
	for _, item := range candidates {
		ids = append(ids, item.id)
	}
	return ids, nil
}

func (s *BufferStore) List(context.Context) ([]core.ConversationBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ConversationBuffer, 0, len(s.buffers))
	for _, entry := range s.buffers {
		out = append(out, entry.buffer.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

// ExpiryNotifications streams conversation ids whose timer fired. Slow
// consumers lose notifications; the detector's sweep recovers them.
func (s *BufferStore) ExpiryNotifications(ctx context.Context) (<-chan string, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch := make(chan string, s.notificationBuffer)
	if s.closed {
		close(ch)
		return ch, nil
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			close(existing)
			delete(s.subscribers, id)
		}
	}()
	return ch, nil
}

func (s *BufferStore) notify(conversationID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- conversationID:
		default:
		}
	}
}

func (s *BufferStore) close() {
	s.mu.Lock()
	for _, entry := range s.buffers {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}
