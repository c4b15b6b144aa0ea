package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-debouncer/core"
)

// QueueStore holds one FIFO of encoded batches per conversation.
type QueueStore struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func newQueueStore() *QueueStore {
	return &QueueStore{queues: map[string][][]byte{}}
}

func (s *QueueStore) Push(_ context.Context, conversationID string, payload []byte) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return core.ErrConversationIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[conversationID] = append(s.queues[conversationID], append([]byte(nil), payload...))
	return nil
}

func (s *QueueStore) Pop(_ context.Context, conversationID string) ([]byte, bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[conversationID]
	if len(queue) == 0 {
		return nil, false, nil
	}
	head := queue[0]
	if len(queue) == 1 {
		delete(s.queues, conversationID)
	} else {
		s.queues[conversationID] = queue[1:]
	}
	return head, true, nil
}

func (s *QueueStore) Pending(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.queues))
	for id, queue := range s.queues {
		if len(queue) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *QueueStore) Depth(_ context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[strings.TrimSpace(conversationID)]), nil
}
