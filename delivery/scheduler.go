package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-debouncer/core"
)

// RetryScheduler parks failed batches until their backoff deadline and is the
// only path by which they return to the delivery queue.
type RetryScheduler struct {
	holds    core.HoldStore
	queue    *core.DeliveryQueue
	observer core.Observer
	now      func() time.Time
}

func NewRetryScheduler(holds core.HoldStore, queue *core.DeliveryQueue) (*RetryScheduler, error) {
	if holds == nil {
		return nil, fmt.Errorf("delivery: hold store is required")
	}
	if queue == nil || queue.Store() == nil {
		return nil, fmt.Errorf("delivery: delivery queue is required")
	}
	return &RetryScheduler{
		holds:    holds,
		queue:    queue,
		observer: core.NewObserver(nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *RetryScheduler) Has(ctx context.Context, conversationID string) (bool, error) {
	_, ok, err := s.holds.Get(ctx, conversationID)
	if err != nil {
		return false, core.StoreUnavailableError(err, "delivery: read retry hold failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	return ok, nil
}

// Schedule parks batch until dueAt. If a hold already exists the batch is
// folded in front of it and the existing deadline is kept.
func (s *RetryScheduler) Schedule(ctx context.Context, batch core.FinalizedBatch, dueAt time.Time) error {
	conversationID := strings.TrimSpace(batch.ConversationID)
	if conversationID == "" {
		return core.ErrConversationIDRequired
	}
	err := s.holds.Create(ctx, core.RetryHold{
		ConversationID: conversationID,
		Batch:          batch.Clone(),
		RetryCount:     batch.RetryCount,
		DueAt:          dueAt,
	})
	if err == nil {
		return nil
	}
	if !core.IsHoldExists(err) {
		return core.StoreUnavailableError(err, "delivery: create retry hold failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	updateErr := s.holds.Update(ctx, conversationID, func(hold *core.RetryHold) error {
		hold.Batch = batch.Merge(hold.Batch)
		hold.RetryCount = batch.RetryCount
		hold.Batch.RetryCount = batch.RetryCount
		return nil
	})
	if updateErr != nil {
		return core.StoreUnavailableError(updateErr, "delivery: merge retry hold failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	return nil
}

// MergeQueued drains the conversation's queue into its hold. Messages are
// appended to the held batch and the deadline is left untouched.
func (s *RetryScheduler) MergeQueued(ctx context.Context, conversationID string) (int, error) {
	batches, malformed, err := s.queue.Drain(ctx, conversationID)
	for _, badErr := range malformed {
		s.observer.Warn(ctx, "malformed queued batch skipped", map[string]any{
			"conversation_id": conversationID,
			"error":           badErr.Error(),
		})
	}
	if len(batches) > 0 {
		updateErr := s.holds.Update(ctx, conversationID, func(hold *core.RetryHold) error {
			for _, queued := range batches {
				hold.Batch = hold.Batch.Merge(queued)
			}
			return nil
		})
		if updateErr != nil {
			// The drained batches would be lost; put them back in order.
			for _, queued := range batches {
				if pushErr := s.queue.Push(ctx, queued); pushErr != nil {
					updateErr = errors.Join(updateErr, pushErr)
				}
			}
			return 0, core.StoreUnavailableError(updateErr, "delivery: merge into retry hold failed", map[string]any{
				"conversation_id": conversationID,
			})
		}
		messages := 0
		for _, queued := range batches {
			messages += len(queued.Messages)
		}
		s.observer.Info(ctx, "queued messages merged into retry hold", map[string]any{
			"conversation_id": conversationID,
			"batches":         len(batches),
			"messages":        messages,
		})
	}
	if err != nil {
		return len(batches), err
	}
	return len(batches), nil
}

// ReleaseDue re-enqueues every hold whose deadline has passed, folding in any
// batches that queued up behind it so the held messages stay first.
func (s *RetryScheduler) ReleaseDue(ctx context.Context, limit int) (int, error) {
	due, err := s.holds.Due(ctx, s.now(), limit)
	if err != nil {
		return 0, core.StoreUnavailableError(err, "delivery: list due retry holds failed", nil)
	}
	released := 0
	var releaseErr error
	for _, hold := range due {
		if err := s.release(ctx, hold.ConversationID); err != nil {
			releaseErr = errors.Join(releaseErr, err)
			continue
		}
		released++
	}
	return released, releaseErr
}

func (s *RetryScheduler) release(ctx context.Context, conversationID string) error {
	if _, err := s.MergeQueued(ctx, conversationID); err != nil {
		return err
	}
	hold, ok, err := s.holds.Get(ctx, conversationID)
	if err != nil {
		return core.StoreUnavailableError(err, "delivery: read retry hold failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	if !ok {
		return nil
	}
	batch := hold.Batch.WithRetryCount(hold.RetryCount)
	if strings.TrimSpace(batch.ConversationID) == "" {
		batch.ConversationID = conversationID
	}
	if err := s.queue.Push(ctx, batch); err != nil {
		return err
	}
	if err := s.holds.Delete(ctx, conversationID); err != nil {
		return core.StoreUnavailableError(err, "delivery: delete retry hold failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	s.observer.Info(ctx, "retry hold released", map[string]any{
		"conversation_id": conversationID,
		"retry_count":     hold.RetryCount,
		"messages":        len(batch.Messages),
	})
	return nil
}
