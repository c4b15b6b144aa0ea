package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DeliveryQueue is the typed view over a QueueStore. Batches are stored as
// JSON so any substrate can hold them.
type DeliveryQueue struct {
	store QueueStore
}

func NewDeliveryQueue(store QueueStore) *DeliveryQueue {
	return &DeliveryQueue{store: store}
}

func (q *DeliveryQueue) Store() QueueStore {
	if q == nil {
		return nil
	}
	return q.store
}

func (q *DeliveryQueue) Push(ctx context.Context, batch FinalizedBatch) error {
	if q == nil || q.store == nil {
		return DependencyError("core: queue store is required")
	}
	conversationID := strings.TrimSpace(batch.ConversationID)
	if conversationID == "" {
		return ErrConversationIDRequired
	}
	payload, err := EncodeBatch(batch)
	if err != nil {
		return err
	}
	if err := q.store.Push(ctx, conversationID, payload); err != nil {
		return StoreUnavailableError(err, "core: push batch failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	return nil
}

// Pop removes the head batch. A payload that cannot be decoded is consumed
// and reported as a malformed batch error.
func (q *DeliveryQueue) Pop(ctx context.Context, conversationID string) (FinalizedBatch, bool, error) {
	if q == nil || q.store == nil {
		return FinalizedBatch{}, false, DependencyError("core: queue store is required")
	}
	payload, ok, err := q.store.Pop(ctx, conversationID)
	if err != nil {
		return FinalizedBatch{}, false, StoreUnavailableError(err, "core: pop batch failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	if !ok {
		return FinalizedBatch{}, false, nil
	}
	batch, err := DecodeBatch(payload)
	if err != nil {
		return FinalizedBatch{}, true, MalformedBatchError(err, conversationID)
	}
	if strings.TrimSpace(batch.ConversationID) == "" {
		batch.ConversationID = conversationID
	}
	return batch, true, nil
}

// Drain pops every remaining batch for the conversation in FIFO order.
// Malformed entries are skipped and returned alongside the good ones.
func (q *DeliveryQueue) Drain(ctx context.Context, conversationID string) ([]FinalizedBatch, []error, error) {
	var (
		batches   []FinalizedBatch
		malformed []error
	)
	for {
		batch, ok, err := q.Pop(ctx, conversationID)
		if err != nil {
			if IsMalformedBatch(err) {
				malformed = append(malformed, err)
				continue
			}
			return batches, malformed, err
		}
		if !ok {
			return batches, malformed, nil
		}
		batches = append(batches, batch)
	}
}

func (q *DeliveryQueue) Pending(ctx context.Context) ([]string, error) {
	if q == nil || q.store == nil {
		return nil, DependencyError("core: queue store is required")
	}
	ids, err := q.store.Pending(ctx)
	if err != nil {
		return nil, StoreUnavailableError(err, "core: list pending queues failed", nil)
	}
	return ids, nil
}

func (q *DeliveryQueue) Depth(ctx context.Context, conversationID string) (int, error) {
	if q == nil || q.store == nil {
		return 0, DependencyError("core: queue store is required")
	}
	depth, err := q.store.Depth(ctx, conversationID)
	if err != nil {
		return 0, StoreUnavailableError(err, "core: queue depth failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	return depth, nil
}

func EncodeBatch(batch FinalizedBatch) ([]byte, error) {
	if batch.Metadata == nil {
		batch.Metadata = map[string]any{}
	}
	if batch.Messages == nil {
		batch.Messages = []any{}
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("core: encode batch: %w", err)
	}
	return payload, nil
}

func DecodeBatch(payload []byte) (FinalizedBatch, error) {
	var batch FinalizedBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return FinalizedBatch{}, fmt.Errorf("core: decode batch: %w", err)
	}
	if batch.Metadata == nil {
		batch.Metadata = map[string]any{}
	}
	if batch.Messages == nil {
		batch.Messages = []any{}
	}
	return batch, nil
}
