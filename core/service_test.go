package core

import (
	"context"
	"testing"
	"time"
)

func TestAppendMessage_CreatesBufferAndStripsReservedKeys(t *testing.T) {
	clock := newFixedClock()
	svc, buffers, _, err := newTestService(clock)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	buffer, err := svc.AppendMessage(context.Background(), AppendRequest{
		ConversationID: "u1",
		Message:        "hi",
		Metadata: map[string]any{
			"agent_id": "a1",
			"message":  "hi",
			"ttl":      15,
		},
		TTLSeconds: 15,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(buffer.Messages) != 1 || buffer.Messages[0] != "hi" {
		t.Fatalf("expected single message, got %#v", buffer.Messages)
	}
	if _, ok := buffer.Metadata["message"]; ok {
		t.Fatalf("expected message key stripped from metadata")
	}
	if _, ok := buffer.Metadata["ttl"]; ok {
		t.Fatalf("expected ttl key stripped from metadata")
	}
	if buffer.Metadata["agent_id"] != "a1" {
		t.Fatalf("expected agent_id metadata, got %#v", buffer.Metadata)
	}
	if want := clock.Now().Add(15 * time.Second); !buffer.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, buffer.ExpiresAt)
	}
	if _, ok, _ := buffers.Get(context.Background(), "u1"); !ok {
		t.Fatalf("expected buffer stored")
	}
}

func TestAppendMessage_LatestMetadataWinsAndTimerResets(t *testing.T) {
	clock := newFixedClock()
	svc, _, _, err := newTestService(clock)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.AppendMessage(ctx, AppendRequest{
		ConversationID: "u1",
		Message:        "hi",
		Metadata:       map[string]any{"phone": "111", "platform": "web"},
		TTLSeconds:     15,
	}); err != nil {
		t.Fatalf("append first: %v", err)
	}
	clock.Advance(time.Second)
	buffer, err := svc.AppendMessage(ctx, AppendRequest{
		ConversationID: "u1",
		Message:        "there",
		Metadata:       map[string]any{"phone": "222"},
		TTLSeconds:     15,
	})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if len(buffer.Messages) != 2 || buffer.Messages[1] != "there" {
		t.Fatalf("expected ordered messages, got %#v", buffer.Messages)
	}
	if buffer.Metadata["phone"] != "222" {
		t.Fatalf("expected latest metadata, got %#v", buffer.Metadata)
	}
	if _, ok := buffer.Metadata["platform"]; ok {
		t.Fatalf("expected metadata replaced, not merged")
	}
	if want := clock.Now().Add(15 * time.Second); !buffer.ExpiresAt.Equal(want) {
		t.Fatalf("expected timer reset to %s, got %s", want, buffer.ExpiresAt)
	}
}

func TestAppendMessage_RejectsNonPositiveTTL(t *testing.T) {
	svc, buffers, _, err := newTestService(newFixedClock())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	for _, ttl := range []int{0, -1} {
		_, err := svc.AppendMessage(context.Background(), AppendRequest{
			ConversationID: "u1",
			Message:        "hi",
			TTLSeconds:     ttl,
		})
		if err == nil {
			t.Fatalf("expected ttl=%d rejected", ttl)
		}
		if !IsConfigError(err) {
			t.Fatalf("expected config error for ttl=%d, got %v", ttl, err)
		}
	}
	if len(buffers.buffers) != 0 {
		t.Fatalf("expected no buffer created for rejected ttl")
	}
}

func TestAppendMessage_ValidatesInput(t *testing.T) {
	svc, _, _, err := newTestService(newFixedClock())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.AppendMessage(context.Background(), AppendRequest{Message: "hi", TTLSeconds: 15}); err == nil {
		t.Fatalf("expected missing conversation id rejected")
	}
	if _, err := svc.AppendMessage(context.Background(), AppendRequest{ConversationID: "u1", Message: "  ", TTLSeconds: 15}); err == nil {
		t.Fatalf("expected blank message rejected")
	}
}

func TestAppendMessage_StoreFailureIsRetryable(t *testing.T) {
	svc, buffers, _, err := newTestService(newFixedClock())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	buffers.err = errStoreDown

	_, err = svc.AppendMessage(context.Background(), AppendRequest{
		ConversationID: "u1",
		Message:        "hi",
		TTLSeconds:     15,
	})
	if err == nil {
		t.Fatalf("expected store failure surfaced")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable store error, got %v", err)
	}
}

func TestQueueStatus_CombinesQueuesBuffersAndHolds(t *testing.T) {
	clock := newFixedClock()
	holds := &testHoldStore{}
	svc, _, queues, err := newTestService(clock, WithHoldStore(holds))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.AppendMessage(ctx, AppendRequest{ConversationID: "u2", Message: "hi", TTLSeconds: 10}); err != nil {
		t.Fatalf("append: %v", err)
	}
	queue := NewDeliveryQueue(queues)
	for range 2 {
		if err := queue.Push(ctx, FinalizedBatch{ConversationID: "u1", Messages: []any{"x"}}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	dueAt := clock.Now().Add(30 * time.Second)
	_ = holds.Create(ctx, RetryHold{ConversationID: "u3", DueAt: dueAt})
	clock.Advance(4 * time.Second)

	statuses, err := svc.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(statuses))
	}
	if statuses[0].ConversationID != "u1" || statuses[0].Depth != 2 {
		t.Fatalf("expected u1 depth 2, got %+v", statuses[0])
	}
	if statuses[1].Buffered != 1 || statuses[1].TTLRemaining != 6*time.Second {
		t.Fatalf("expected u2 buffered with 6s remaining, got %+v", statuses[1])
	}
	if statuses[2].RetryDueAt == nil || !statuses[2].RetryDueAt.Equal(dueAt) {
		t.Fatalf("expected u3 retry due at %s, got %+v", dueAt, statuses[2])
	}
}

func TestAuditHistory_DefaultsLimitAndRequiresReader(t *testing.T) {
	svc, _, _, err := newTestService(newFixedClock())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.AuditHistory(context.Background(), "u1", 0); err == nil {
		t.Fatalf("expected error without audit reader")
	}

	reader := &testAuditReader{records: []AuditRecord{
		{ConversationID: "u1", Status: AuditStatusSuccess},
		{ConversationID: "u2", Status: AuditStatusError},
	}}
	svc, _, _, err = newTestService(newFixedClock(), WithAuditReader(reader))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	records, err := svc.AuditHistory(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("audit history: %v", err)
	}
	if len(records) != 1 || records[0].Status != AuditStatusSuccess {
		t.Fatalf("expected single u1 record, got %#v", records)
	}
	if reader.lastLimit != defaultHistoryLimit {
		t.Fatalf("expected default limit %d, got %d", defaultHistoryLimit, reader.lastLimit)
	}
}

func TestNewService_RequiresStores(t *testing.T) {
	if _, err := NewService(DefaultConfig()); err == nil {
		t.Fatalf("expected error without buffer store")
	}
	if _, err := NewService(DefaultConfig(), WithBufferStore(newTestBufferStore(time.Now))); err == nil {
		t.Fatalf("expected error without queue store")
	}
}
