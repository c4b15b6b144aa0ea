package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-debouncer/core"
)

// QueueStore keeps per-conversation FIFOs as rows ordered by id.
type QueueStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewQueueStore(db *bun.DB) (*QueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &QueueStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *QueueStore) Push(ctx context.Context, conversationID string, payload []byte) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return core.ErrConversationIDRequired
	}
	record := &queueEntryRecord{
		ConversationID: conversationID,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      s.now().UTC(),
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

// Pop claims the head row by deleting it; a lost race moves on to the next
// head so two consumers never receive the same entry.
func (s *QueueStore) Pop(ctx context.Context, conversationID string) ([]byte, bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	for {
		record := &queueEntryRecord{}
		err := s.db.NewSelect().
			Model(record).
			Where("?TableAlias.conversation_id = ?", conversationID).
			OrderExpr("?TableAlias.id ASC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, false, nil
			}
			return nil, false, err
		}
		res, err := s.db.NewDelete().
			Model((*queueEntryRecord)(nil)).
			Where("id = ?", record.ID).
			Exec(ctx)
		if err != nil {
			return nil, false, err
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return record.Payload, true, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
}

// Pending lists conversations with queued entries, oldest head first.
func (s *QueueStore) Pending(ctx context.Context) ([]string, error) {
	var rows []struct {
		ConversationID string `bun:"conversation_id"`
		HeadID         int64  `bun:"head_id"`
	}
	err := s.db.NewSelect().
		Model((*queueEntryRecord)(nil)).
		ColumnExpr("conversation_id").
		ColumnExpr("MIN(id) AS head_id").
		Group("conversation_id").
		OrderExpr("head_id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ConversationID)
	}
	return ids, nil
}

func (s *QueueStore) Depth(ctx context.Context, conversationID string) (int, error) {
	return s.db.NewSelect().
		Model((*queueEntryRecord)(nil)).
		Where("conversation_id = ?", strings.TrimSpace(conversationID)).
		Count(ctx)
}
