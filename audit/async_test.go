package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-debouncer/core"
	"github.com/goliatone/go-debouncer/store/memory"
)

type blockingLog struct {
	release chan struct{}
	mu      sync.Mutex
	records []core.AuditRecord
}

func (l *blockingLog) Record(_ context.Context, record core.AuditRecord) error {
	<-l.release
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *blockingLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type failingLog struct{}

func (failingLog) Record(context.Context, core.AuditRecord) error {
	return errors.New("audit store down")
}

func TestAsyncRecorder_FlushesOnClose(t *testing.T) {
	store := memory.New()
	recorder, err := NewAsyncRecorder(store.AuditLog(), DefaultConfig())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	for _, status := range []string{core.AuditStatusSending, core.AuditStatusSuccess} {
		if err := recorder.Record(ctx, core.AuditRecord{ConversationID: "u1", Attempt: 1, Status: status}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := recorder.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
	history, _ := store.Audit().History(ctx, "u1", 0)
	if len(history) != 2 {
		t.Fatalf("expected 2 flushed records, got %d", len(history))
	}
	if err := recorder.Record(ctx, core.AuditRecord{ConversationID: "u1", Status: core.AuditStatusError}); err != nil {
		t.Fatalf("expected record after close to be dropped quietly, got %v", err)
	}
}

func TestAsyncRecorder_NeverBlocksWhenFull(t *testing.T) {
	primary := &blockingLog{release: make(chan struct{})}
	fallback := memory.New().Audit()
	recorder, err := NewAsyncRecorder(primary, Config{BufferSize: 1}, WithFallback(fallback))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 5 {
			_ = recorder.Record(ctx, core.AuditRecord{ConversationID: "u1", Status: core.AuditStatusSending})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("record blocked on a stalled audit store")
	}

	spilled, _ := fallback.History(ctx, "u1", 0)
	if len(spilled) == 0 {
		t.Fatalf("expected overflow records routed to fallback")
	}
	close(primary.release)
	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := recorder.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if total := primary.Len() + len(spilled); total != 5 {
		t.Fatalf("expected every record written somewhere, got %d", total)
	}
}

func TestAsyncRecorder_WriteFailureIsSwallowed(t *testing.T) {
	recorder, err := NewAsyncRecorder(failingLog{}, DefaultConfig())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	if err := recorder.Record(ctx, core.AuditRecord{ConversationID: "u1", Status: core.AuditStatusError}); err != nil {
		t.Fatalf("expected audit failure hidden from caller, got %v", err)
	}
	if err := recorder.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestAsyncRecorder_RejectsUnknownStatus(t *testing.T) {
	recorder, _ := NewAsyncRecorder(failingLog{}, DefaultConfig())
	defer recorder.Close(context.Background())
	if err := recorder.Record(context.Background(), core.AuditRecord{ConversationID: "u1", Status: "pending"}); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestJanitor_PurgesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := memory.New(
		memory.WithClock(func() time.Time { return clock }),
		memory.WithAuditRetention(time.Hour),
	)
	_ = store.AuditLog().Record(ctx, core.AuditRecord{ConversationID: "u1", Status: core.AuditStatusSuccess})

	janitor, err := NewJanitor(store.AuditPurger(), time.Minute, WithJanitorClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	if purged, _ := janitor.PurgeOnce(ctx); purged != 0 {
		t.Fatalf("expected nothing purged inside retention, got %d", purged)
	}
	clock = now.Add(2 * time.Hour)
	if purged, _ := janitor.PurgeOnce(ctx); purged != 1 {
		t.Fatalf("expected expired record purged, got %d", purged)
	}
}
