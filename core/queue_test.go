package core

import (
	"context"
	"testing"
	"time"
)

func TestDeliveryQueue_FIFOPerConversation(t *testing.T) {
	ctx := context.Background()
	queue := NewDeliveryQueue(newTestQueueStore())
	for _, message := range []string{"first", "second"} {
		if err := queue.Push(ctx, FinalizedBatch{ConversationID: "u1", Messages: []any{message}}); err != nil {
			t.Fatalf("push %s: %v", message, err)
		}
	}
	if err := queue.Push(ctx, FinalizedBatch{ConversationID: "u2", Messages: []any{"other"}}); err != nil {
		t.Fatalf("push other: %v", err)
	}

	for _, want := range []string{"first", "second"} {
		batch, ok, err := queue.Pop(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("pop: ok=%v err=%v", ok, err)
		}
		if batch.Messages[0] != want {
			t.Fatalf("expected %s, got %#v", want, batch.Messages)
		}
	}
	if _, ok, err := queue.Pop(ctx, "u1"); ok || err != nil {
		t.Fatalf("expected empty queue, ok=%v err=%v", ok, err)
	}
	if depth, _ := queue.Depth(ctx, "u2"); depth != 1 {
		t.Fatalf("expected u2 untouched, depth=%d", depth)
	}
}

func TestDeliveryQueue_MalformedBatchIsConsumed(t *testing.T) {
	ctx := context.Background()
	store := newTestQueueStore()
	queue := NewDeliveryQueue(store)
	_ = store.Push(ctx, "u1", []byte("{not json"))
	_ = queue.Push(ctx, FinalizedBatch{ConversationID: "u1", Messages: []any{"ok"}})

	_, ok, err := queue.Pop(ctx, "u1")
	if !ok || !IsMalformedBatch(err) {
		t.Fatalf("expected malformed batch consumed, ok=%v err=%v", ok, err)
	}
	batches, malformed, err := queue.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batches) != 1 || len(malformed) != 0 {
		t.Fatalf("expected one good batch after malformed, got %d/%d", len(batches), len(malformed))
	}
}

func TestDeliveryQueue_StoreFailureIsRetryable(t *testing.T) {
	store := newTestQueueStore()
	store.err = errStoreDown
	queue := NewDeliveryQueue(store)
	if err := queue.Push(context.Background(), FinalizedBatch{ConversationID: "u1"}); !IsRetryable(err) {
		t.Fatalf("expected retryable push error, got %v", err)
	}
}

func TestBuildPayload_LayersReservedFields(t *testing.T) {
	processedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := FinalizedBatch{
		ConversationID: "u1",
		Metadata:       map[string]any{"agent_id": "a1", "messages": "spoofed"},
		Messages:       []any{"hi", "there"},
		ProcessedAt:    processedAt,
	}
	payload := BuildPayload(batch)
	if payload["agent_id"] != "a1" || payload["user_id"] != "u1" {
		t.Fatalf("expected metadata and user_id, got %#v", payload)
	}
	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected batch messages to win over metadata, got %#v", payload["messages"])
	}
	if payload["processed_at"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("expected RFC3339 processed_at, got %#v", payload["processed_at"])
	}
}
