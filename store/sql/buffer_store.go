package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-debouncer/core"
)

// BufferStore keeps conversation windows in debounce_buffers. It has no
// push notifications; the expiry detector finds due rows by polling Expired.
type BufferStore struct {
	db  *bun.DB
	now func() time.Time

	beforeWrite func(ctx context.Context, tx bun.Tx) error
}

const bufferAppendAttempts = 5

var errBufferChanged = errors.New("sqlstore: buffer changed concurrently")

func NewBufferStore(db *bun.DB) (*BufferStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &BufferStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *BufferStore) Append(
	ctx context.Context,
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
		return core.ConversationBuffer{}, core.ConfigError("sqlstore: ttl must be positive", map[string]any{
			"conversation_id": conversationID,
		})
	}

	var (
		out core.ConversationBuffer
		err error
	)
	for attempt := 1; attempt <= bufferAppendAttempts; attempt++ {
		out, err = s.appendOnce(ctx, conversationID, message, metadata, ttl)
		if !errors.Is(err, errBufferChanged) {
			break
		}
	}
	if err != nil {
		return core.ConversationBuffer{}, err
	}
	return out, nil
}

// appendOnce returns errBufferChanged when a concurrent writer created or
// advanced the row between the read and the write.
func (s *BufferStore) appendOnce(
	ctx context.Context,
	conversationID string,
	message any,
	metadata map[string]any,
	ttl time.Duration,
) (core.ConversationBuffer, error) {
	var out core.ConversationBuffer
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now().UTC()
		record, err := findBufferTx(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if s.beforeWrite != nil {
			if err := s.beforeWrite(ctx, tx); err != nil {
				return err
			}
		}
		if record == nil {
			record = &bufferRecord{
				ConversationID: conversationID,
				Metadata:       core.CloneMetadata(metadata),
				Messages:       []any{message},
				Revision:       1,
				ExpiresAt:      now.Add(ttl),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", errBufferChanged, conversationID)
				}
				return err
			}
			out = record.toDomain()
			return nil
		}

		previous := record.Revision
		record.Messages = append(record.Messages, message)
		record.Metadata = core.CloneMetadata(metadata)
		record.RetryCount = 0
		record.Revision = previous + 1
		record.ExpiresAt = now.Add(ttl)
		record.UpdatedAt = now
		res, err := tx.NewUpdate().
			Model(record).
			Column("messages", "metadata", "retry_count", "revision", "expires_at", "updated_at").
			Where("conversation_id = ?", conversationID).
			Where("revision = ?", previous).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: %s", errBufferChanged, conversationID)
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.ConversationBuffer{}, err
	}
	return out, nil
}

func (s *BufferStore) Get(ctx context.Context, conversationID string) (core.ConversationBuffer, bool, error) {
	record := &bufferRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.conversation_id = ?", strings.TrimSpace(conversationID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ConversationBuffer{}, false, nil
		}
		return core.ConversationBuffer{}, false, err
	}
	return record.toDomain(), true, nil
}

// Release deletes the buffer when revision still matches. Otherwise messages
// arrived after the snapshot, so only the consumed prefix is removed.
func (s *BufferStore) Release(ctx context.Context, conversationID string, revision int64, consumed int) error {
	conversationID = strings.TrimSpace(conversationID)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*bufferRecord)(nil)).
			Where("conversation_id = ?", conversationID).
			Where("revision = ?", revision).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected > 0 || consumed <= 0 {
			return nil
		}

		record, err := findBufferTx(ctx, tx, conversationID)
		if err != nil || record == nil {
			return err
		}
		if consumed > len(record.Messages) {
			consumed = len(record.Messages)
		}
		record.Messages = append([]any{}, record.Messages[consumed:]...)
		record.UpdatedAt = s.now().UTC()
		_, err = tx.NewUpdate().
			Model(record).
			Column("messages", "updated_at").
			Where("conversation_id = ?", conversationID).
			Where("revision = ?", record.Revision).
			Exec(ctx)
		return err
	})
}

func (s *BufferStore) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	query := s.db.NewSelect().
		Model((*bufferRecord)(nil)).
		Column("conversation_id").
		Where("expires_at <= ?", now.UTC()).
		OrderExpr("expires_at ASC, conversation_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *BufferStore) List(ctx context.Context) ([]core.ConversationBuffer, error) {
	var records []*bufferRecord
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.conversation_id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.ConversationBuffer, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findBufferTx(ctx context.Context, tx bun.Tx, conversationID string) (*bufferRecord, error) {
	record := &bufferRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.conversation_id = ?", conversationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

func (r *bufferRecord) toDomain() core.ConversationBuffer {
	if r == nil {
		return core.ConversationBuffer{}
	}
	return core.ConversationBuffer{
		ConversationID: r.ConversationID,
		Metadata:       core.CloneMetadata(r.Metadata),
		Messages:       append([]any{}, r.Messages...),
		RetryCount:     r.RetryCount,
		Revision:       r.Revision,
		ExpiresAt:      r.ExpiresAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}
