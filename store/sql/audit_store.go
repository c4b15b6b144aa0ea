package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-debouncer/core"
)

type AuditStore struct {
	db        *bun.DB
	repo      repository.Repository[*auditRecord]
	retention time.Duration
	now       func() time.Time
}

func NewAuditStore(db *bun.DB, retention time.Duration) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if retention <= 0 {
		retention = core.DefaultAuditRetention
	}
	repo := repository.NewRepository[*auditRecord](db, auditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{
		db:        db,
		repo:      repo,
		retention: retention,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *AuditStore) Record(ctx context.Context, record core.AuditRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	conversationID := strings.TrimSpace(record.ConversationID)
	if conversationID == "" {
		return core.ErrConversationIDRequired
	}
	if !core.ValidAuditStatus(record.Status) {
		return core.BadInputError("sqlstore: invalid audit status", map[string]any{
			"status": record.Status,
		})
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	recordedAt := record.RecordedAt.UTC()
	if record.RecordedAt.IsZero() {
		recordedAt = s.now().UTC()
	}
	expiresAt := record.ExpiresAt.UTC()
	if record.ExpiresAt.IsZero() {
		expiresAt = recordedAt.Add(s.retention)
	}

	row := &auditRecord{
		ID:             id,
		ConversationID: conversationID,
		Attempt:        record.Attempt,
		Status:         strings.TrimSpace(record.Status),
		Payload:        core.CloneMetadata(record.Payload),
		RecordedAt:     recordedAt,
		ExpiresAt:      expiresAt,
	}
	if record.Response != nil {
		row.Response = core.CloneMetadata(record.Response)
	}
	_, err := s.repo.Create(ctx, row)
	return err
}

func liveAt(now time.Time) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.expires_at > ?", now.UTC())
	})
}

// History returns live records for the conversation, newest first.
func (s *AuditStore) History(ctx context.Context, conversationID string, limit int) ([]core.AuditRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("conversation_id", "=", strings.TrimSpace(conversationID)),
		liveAt(s.now()),
		repository.OrderBy("recorded_at DESC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *AuditStore) Purge(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: audit store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*auditRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (r *auditRecord) toDomain() core.AuditRecord {
	if r == nil {
		return core.AuditRecord{}
	}
	record := core.AuditRecord{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Attempt:        r.Attempt,
		Status:         r.Status,
		Payload:        core.CloneMetadata(r.Payload),
		RecordedAt:     r.RecordedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
	}
	if r.Response != nil {
		record.Response = core.CloneMetadata(r.Response)
	}
	return record
}
