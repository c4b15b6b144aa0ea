package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-debouncer/core"
)

// AuditStore is an append-only attempt log with per-record expiry.
type AuditStore struct {
	now       func() time.Time
	retention time.Duration
	mu        sync.Mutex
	records   []core.AuditRecord
}

func newAuditStore(now func() time.Time, retention time.Duration) *AuditStore {
	return &AuditStore{now: now, retention: retention}
}

func (s *AuditStore) Record(_ context.Context, record core.AuditRecord) error {
	record.ConversationID = strings.TrimSpace(record.ConversationID)
	if record.ConversationID == "" {
		return core.ErrConversationIDRequired
	}
	if !core.ValidAuditStatus(record.Status) {
		return core.BadInputError("memory: invalid audit status", map[string]any{
			"status": record.Status,
		})
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = s.now()
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.RecordedAt.Add(s.retention)
	}
	record.Payload = core.CloneMetadata(record.Payload)
	if record.Response != nil {
		record.Response = core.CloneMetadata(record.Response)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// History returns live records for the conversation, newest first.
func (s *AuditStore) History(_ context.Context, conversationID string, limit int) ([]core.AuditRecord, error) {
	conversationID = strings.TrimSpace(conversationID)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AuditRecord, 0)
	for index := len(s.records) - 1; index >= 0; index-- {
		record := s.records[index]
		if record.ConversationID != conversationID || !record.ExpiresAt.After(now) {
			continue
		}
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *AuditStore) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	purged := 0
	for _, record := range s.records {
		if !record.ExpiresAt.After(now) {
			purged++
			continue
		}
		kept = append(kept, record)
	}
	s.records = kept
	return purged, nil
}
