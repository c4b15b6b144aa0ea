package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

var errStoreDown = errors.New("store down")

type testBufferStore struct {
	mu      sync.Mutex
	now     func() time.Time
	buffers map[string]ConversationBuffer
	err     error
}

func newTestBufferStore(now func() time.Time) *testBufferStore {
	return &testBufferStore{now: now, buffers: map[string]ConversationBuffer{}}
}

func (s *testBufferStore) Append(
	_ context.Context,
	conversationID string,
	message any,
	metadata map[string]any,
	ttl time.Duration,
) (ConversationBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return ConversationBuffer{}, s.err
	}
	now := s.now()
	buffer, ok := s.buffers[conversationID]
	if !ok {
		buffer = ConversationBuffer{ConversationID: conversationID, CreatedAt: now}
	}
	buffer.Messages = append(buffer.Messages, message)
	buffer.Metadata = CloneMetadata(metadata)
	buffer.RetryCount = 0
	buffer.Revision++
	buffer.ExpiresAt = now.Add(ttl)
	buffer.UpdatedAt = now
	s.buffers[conversationID] = buffer
	return buffer.Clone(), nil
}

func (s *testBufferStore) Get(_ context.Context, conversationID string) (ConversationBuffer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buffer, ok := s.buffers[conversationID]
	return buffer.Clone(), ok, nil
}

func (s *testBufferStore) Release(_ context.Context, conversationID string, revision int64, consumed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buffer, ok := s.buffers[conversationID]
	if !ok {
		return nil
	}
	if buffer.Revision == revision {
		delete(s.buffers, conversationID)
		return nil
	}
	if consumed > len(buffer.Messages) {
		consumed = len(buffer.Messages)
	}
	buffer.Messages = buffer.Messages[consumed:]
	s.buffers[conversationID] = buffer
	return nil
}

func (s *testBufferStore) Expired(_ context.Context, now time.Time, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []string{}
	for id, buffer := range s.buffers {
		if buffer.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *testBufferStore) List(context.Context) ([]ConversationBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationBuffer, 0, len(s.buffers))
	for _, buffer := range s.buffers {
		out = append(out, buffer.Clone())
	}
	return out, nil
}

type testQueueStore struct {
	mu     sync.Mutex
	queues map[string][][]byte
	err    error
}

func newTestQueueStore() *testQueueStore {
	return &testQueueStore{queues: map[string][][]byte{}}
}

func (s *testQueueStore) Push(_ context.Context, conversationID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.queues[conversationID] = append(s.queues[conversationID], append([]byte(nil), payload...))
	return nil
}

func (s *testQueueStore) Pop(_ context.Context, conversationID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
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

func (s *testQueueStore) Pending(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]string, 0, len(s.queues))
	for id := range s.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *testQueueStore) Depth(_ context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[conversationID]), nil
}

type testHoldStore struct {
	holds []RetryHold
}

func (s *testHoldStore) Create(_ context.Context, hold RetryHold) error {
	s.holds = append(s.holds, hold)
	return nil
}

func (s *testHoldStore) Get(_ context.Context, conversationID string) (RetryHold, bool, error) {
	for _, hold := range s.holds {
		if hold.ConversationID == conversationID {
			return hold, true, nil
		}
	}
	return RetryHold{}, false, nil
}

func (s *testHoldStore) Update(context.Context, string, func(*RetryHold) error) error {
	return nil
}

func (s *testHoldStore) Due(context.Context, time.Time, int) ([]RetryHold, error) {
	return nil, nil
}

func (s *testHoldStore) Delete(context.Context, string) error {
	return nil
}

func (s *testHoldStore) List(context.Context) ([]RetryHold, error) {
	return append([]RetryHold(nil), s.holds...), nil
}

type testAuditReader struct {
	records   []AuditRecord
	lastLimit int
}

func (r *testAuditReader) History(_ context.Context, conversationID string, limit int) ([]AuditRecord, error) {
	r.lastLimit = limit
	out := []AuditRecord{}
	for _, record := range r.records {
		if record.ConversationID == conversationID {
			out = append(out, record)
		}
	}
	return out, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(clock *fixedClock, opts ...Option) (*Service, *testBufferStore, *testQueueStore, error) {
	buffers := newTestBufferStore(clock.Now)
	queues := newTestQueueStore()
	base := []Option{
		WithBufferStore(buffers),
		WithQueueStore(queues),
		WithClock(clock.Now),
	}
	svc, err := NewService(Config{}, append(base, opts...)...)
	return svc, buffers, queues, err
}
