package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-debouncer/core"
)

// HoldStore enforces one retry hold per conversation through the
// debounce_retry_holds primary key.
type HoldStore struct {
	db   *bun.DB
	repo repository.Repository[*holdRecord]
	now  func() time.Time
}

func NewHoldStore(db *bun.DB) (*HoldStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*holdRecord](db, holdHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid retry hold repository wiring: %w", err)
		}
	}
	return &HoldStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *HoldStore) Create(ctx context.Context, hold core.RetryHold) error {
	conversationID := strings.TrimSpace(hold.ConversationID)
	if conversationID == "" {
		return core.ErrConversationIDRequired
	}
	now := s.now().UTC()
	record := &holdRecord{
		ConversationID: conversationID,
		Batch:          hold.Batch.Clone(),
		RetryCount:     hold.RetryCount,
		DueAt:          hold.DueAt.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !hold.CreatedAt.IsZero() {
		record.CreatedAt = hold.CreatedAt.UTC()
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findHoldTx(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if existing != nil {
			return core.HoldExistsError(conversationID)
		}
		_, err = s.repo.CreateTx(ctx, tx, record)
		return err
	})
	if err != nil && !core.IsHoldExists(err) {
		// A concurrent create can win between the check and the insert.
		if _, ok, getErr := s.Get(ctx, conversationID); getErr == nil && ok {
			return core.HoldExistsError(conversationID)
		}
	}
	return err
}

func (s *HoldStore) Get(ctx context.Context, conversationID string) (core.RetryHold, bool, error) {
	record := &holdRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.conversation_id = ?", strings.TrimSpace(conversationID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.RetryHold{}, false, nil
		}
		return core.RetryHold{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *HoldStore) Update(ctx context.Context, conversationID string, mutate func(*core.RetryHold) error) error {
	conversationID = strings.TrimSpace(conversationID)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findHoldTx(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if record == nil {
			return core.NotFoundError("sqlstore: retry hold not found", map[string]any{
				"conversation_id": conversationID,
			})
		}
		hold := record.toDomain()
		if mutate != nil {
			if err := mutate(&hold); err != nil {
				return err
			}
		}
		record.Batch = hold.Batch.Clone()
		record.RetryCount = hold.RetryCount
		record.DueAt = hold.DueAt.UTC()
		record.UpdatedAt = s.now().UTC()
		_, err = tx.NewUpdate().
			Model(record).
			Column("batch", "retry_count", "due_at", "updated_at").
			Where("conversation_id = ?", conversationID).
			Exec(ctx)
		return err
	})
}

func (s *HoldStore) Due(ctx context.Context, now time.Time, limit int) ([]core.RetryHold, error) {
	selectors := []repository.SelectCriteria{
		dueBefore(now),
		repository.OrderBy("due_at ASC"),
		repository.OrderBy("conversation_id ASC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	return s.list(ctx, selectors...)
}

// dueBefore binds now as a time value so the dialect formats it the same way
// it stores due_at. sqlite compares timestamps as text.
func dueBefore(now time.Time) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.due_at <= ?", now.UTC())
	})
}

func (s *HoldStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.NewDelete().
		Model((*holdRecord)(nil)).
		Where("conversation_id = ?", strings.TrimSpace(conversationID)).
		Exec(ctx)
	return err
}

func (s *HoldStore) List(ctx context.Context) ([]core.RetryHold, error) {
	return s.list(ctx,
		repository.OrderBy("due_at ASC"),
		repository.OrderBy("conversation_id ASC"),
	)
}

func (s *HoldStore) list(ctx context.Context, selectors ...repository.SelectCriteria) ([]core.RetryHold, error) {
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.RetryHold, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findHoldTx(ctx context.Context, tx bun.Tx, conversationID string) (*holdRecord, error) {
	record := &holdRecord{}
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

func (r *holdRecord) toDomain() core.RetryHold {
	if r == nil {
		return core.RetryHold{}
	}
	return core.RetryHold{
		ConversationID: r.ConversationID,
		Batch:          r.Batch.Clone(),
		RetryCount:     r.RetryCount,
		DueAt:          r.DueAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}
