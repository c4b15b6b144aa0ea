package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-debouncer/core"
	"github.com/goliatone/go-debouncer/store/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentCall struct {
	conversationID string
	payload        map[string]any
	at             time.Time
}

// scriptedSender returns the scripted outcomes in order and repeats the last.
type scriptedSender struct {
	mu       sync.Mutex
	clock    *testClock
	outcomes []core.DeliveryOutcome
	calls    []sentCall
}

func (s *scriptedSender) Send(_ context.Context, conversationID string, payload map[string]any) core.DeliveryOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sentCall{conversationID: conversationID, payload: payload, at: s.clock.Now()})
	if len(s.outcomes) == 0 {
		return core.DeliveredOutcome(200, "ok")
	}
	index := len(s.calls) - 1
	if index >= len(s.outcomes) {
		index = len(s.outcomes) - 1
	}
	return s.outcomes[index]
}

func (s *scriptedSender) Calls() []sentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentCall(nil), s.calls...)
}

type poolFixture struct {
	pool   *Pool
	store  *memory.Store
	queue  *core.DeliveryQueue
	clock  *testClock
	sender *scriptedSender
}

func newPoolFixture(t *testing.T, config Config, outcomes ...core.DeliveryOutcome) *poolFixture {
	t.Helper()
	clock := newTestClock()
	store := memory.New(memory.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	queue := core.NewDeliveryQueue(store.QueueStore())
	sender := &scriptedSender{clock: clock, outcomes: outcomes}
	pool, err := NewPool(queue, store.HoldStore(), sender, config,
		WithAuditLog(store.AuditLog()),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return &poolFixture{pool: pool, store: store, queue: queue, clock: clock, sender: sender}
}

func (f *poolFixture) enqueue(t *testing.T, conversationID string, messages ...any) {
	t.Helper()
	err := f.queue.Push(context.Background(), core.FinalizedBatch{
		ConversationID: conversationID,
		Metadata:       map[string]any{"channel": "web"},
		Messages:       messages,
		ProcessedAt:    f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func (f *poolFixture) tick(t *testing.T) int {
	t.Helper()
	dispatched, err := f.pool.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	f.pool.Wait()
	return dispatched
}

func (f *poolFixture) statuses(t *testing.T, conversationID string) []string {
	t.Helper()
	history, err := f.store.Audit().History(context.Background(), conversationID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	out := make([]string, 0, len(history))
	for index := len(history) - 1; index >= 0; index-- {
		out = append(out, history[index].Status)
	}
	return out
}

func failure() core.DeliveryOutcome {
	return core.DeliveredOutcome(503, "unavailable")
}

func TestPool_SuccessfulDelivery(t *testing.T) {
	fx := newPoolFixture(t, DefaultConfig())
	fx.enqueue(t, "u1", "hi", "there")

	if dispatched := fx.tick(t); dispatched != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatched)
	}
	calls := fx.sender.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one send, got %d", len(calls))
	}
	payload := calls[0].payload
	if payload[core.PayloadKeyUserID] != "u1" || payload["channel"] != "web" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	messages, _ := payload[core.PayloadKeyMessages].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected both messages in payload, got %#v", payload[core.PayloadKeyMessages])
	}
	got := fx.statuses(t, "u1")
	if len(got) != 2 || got[0] != core.AuditStatusSending || got[1] != core.AuditStatusSuccess {
		t.Fatalf("expected [sending success], got %v", got)
	}
	if depth, _ := fx.queue.Depth(context.Background(), "u1"); depth != 0 {
		t.Fatalf("expected queue drained, got %d", depth)
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	fx := newPoolFixture(t, DefaultConfig(), failure(), failure(), core.DeliveredOutcome(200, "ok"))
	fx.enqueue(t, "u1", "hi")
	start := fx.clock.Now()

	fx.tick(t)
	fx.clock.Advance(29 * time.Second)
	fx.tick(t)
	if calls := fx.sender.Calls(); len(calls) != 1 {
		t.Fatalf("expected no retry before backoff elapsed, got %d sends", len(calls))
	}

	fx.clock.Advance(time.Second)
	fx.tick(t) // releases the hold
	fx.tick(t) // dispatches the second attempt
	fx.clock.Advance(180 * time.Second)
	fx.tick(t)
	fx.tick(t)

	calls := fx.sender.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected three attempts, got %d", len(calls))
	}
	if gap := calls[1].at.Sub(start); gap != 30*time.Second {
		t.Fatalf("expected first retry after 30s, got %s", gap)
	}
	if gap := calls[2].at.Sub(calls[1].at); gap != 180*time.Second {
		t.Fatalf("expected second retry after 180s, got %s", gap)
	}

	want := []string{
		core.AuditStatusSending, core.AuditStatusError,
		core.AuditStatusSending, core.AuditStatusError,
		core.AuditStatusSending, core.AuditStatusSuccess,
	}
	got := fx.statuses(t, "u1")
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if holds, _ := fx.store.Holds().List(context.Background()); len(holds) != 0 {
		t.Fatalf("expected no holds left, got %d", len(holds))
	}
}

func TestPool_DiscardsAfterMaxRetries(t *testing.T) {
	fx := newPoolFixture(t, DefaultConfig(), failure())
	fx.enqueue(t, "u1", "hi")

	for range 10 {
		fx.tick(t)
		fx.clock.Advance(300 * time.Second)
	}

	if calls := fx.sender.Calls(); len(calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(calls))
	}
	got := fx.statuses(t, "u1")
	if len(got) != 6 || got[len(got)-1] != core.AuditStatusDiscarded {
		t.Fatalf("expected final discarded record, got %v", got)
	}
	history, _ := fx.store.Audit().History(context.Background(), "u1", 1)
	if history[0].Attempt != 3 || history[0].Response["status_code"] != 503 {
		t.Fatalf("expected discard to carry final error context, got %+v", history[0])
	}
	if holds, _ := fx.store.Holds().List(context.Background()); len(holds) != 0 {
		t.Fatalf("expected no hold after discard")
	}
}

// unavailableHolds fails every hold creation.
type unavailableHolds struct {
	core.HoldStore
}

func (unavailableHolds) Create(context.Context, core.RetryHold) error {
	return errors.New("hold table unavailable")
}

func TestPool_DropsBatchWhenHoldCannotBeCreated(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := memory.New(memory.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	queue := core.NewDeliveryQueue(store.QueueStore())
	sender := &scriptedSender{clock: clock, outcomes: []core.DeliveryOutcome{failure()}}
	metrics := core.NewCounterRecorder()
	pool, err := NewPool(queue, unavailableHolds{HoldStore: store.HoldStore()}, sender, DefaultConfig(),
		WithAuditLog(store.AuditLog()),
		WithMetricsRecorder(metrics),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	fx := &poolFixture{pool: pool, store: store, queue: queue, clock: clock, sender: sender}
	fx.enqueue(t, "u1", "hi")

	fx.tick(t)
	if depth, _ := queue.Depth(ctx, "u1"); depth != 0 {
		t.Fatalf("expected batch not requeued, got depth %d", depth)
	}
	fx.tick(t)
	fx.clock.Advance(time.Second)
	fx.tick(t)
	if calls := sender.Calls(); len(calls) != 1 {
		t.Fatalf("expected no immediate redelivery, got %d sends", len(calls))
	}

	got := fx.statuses(t, "u1")
	if len(got) != 2 || got[0] != core.AuditStatusSending || got[1] != core.AuditStatusError {
		t.Fatalf("expected [sending error], got %v", got)
	}
	if dropped := metrics.Counter(core.MetricBatchDiscarded); dropped != 1 {
		t.Fatalf("expected dropped batch counted, got %d", dropped)
	}
}

func TestPool_MessagesDuringCooldownMergeIntoHold(t *testing.T) {
	ctx := context.Background()
	fx := newPoolFixture(t, DefaultConfig(), failure(), core.DeliveredOutcome(200, "ok"))
	fx.enqueue(t, "u1", "hi")
	fx.tick(t)

	hold, ok, _ := fx.store.Holds().Get(ctx, "u1")
	if !ok {
		t.Fatalf("expected retry hold after failure")
	}
	dueAt := hold.DueAt

	fx.clock.Advance(10 * time.Second)
	fx.enqueue(t, "u1", "late")
	if dispatched := fx.tick(t); dispatched != 0 {
		t.Fatalf("expected no dispatch while held, got %d", dispatched)
	}
	merged, _, _ := fx.store.Holds().Get(ctx, "u1")
	if len(merged.Batch.Messages) != 2 || merged.Batch.Messages[1] != "late" {
		t.Fatalf("expected late message merged into hold, got %#v", merged.Batch.Messages)
	}
	if !merged.DueAt.Equal(dueAt) {
		t.Fatalf("expected deadline unchanged, got %s want %s", merged.DueAt, dueAt)
	}
	if depth, _ := fx.queue.Depth(ctx, "u1"); depth != 0 {
		t.Fatalf("expected queue drained into hold, got %d", depth)
	}

	fx.clock.Advance(20 * time.Second)
	fx.tick(t)
	fx.tick(t)
	calls := fx.sender.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected a single retried delivery, got %d sends", len(calls))
	}
	messages, _ := calls[1].payload[core.PayloadKeyMessages].([]any)
	if len(messages) != 2 || messages[0] != "hi" || messages[1] != "late" {
		t.Fatalf("expected merged messages in retry, got %#v", messages)
	}
}

// blockingSender parks every send until released.
type blockingSender struct {
	mu      sync.Mutex
	active  map[string]int
	overlap bool
	release chan struct{}
}

func (s *blockingSender) Send(_ context.Context, conversationID string, _ map[string]any) core.DeliveryOutcome {
	s.mu.Lock()
	s.active[conversationID]++
	if s.active[conversationID] > 1 {
		s.overlap = true
	}
	s.mu.Unlock()
	<-s.release
	s.mu.Lock()
	s.active[conversationID]--
	s.mu.Unlock()
	return core.DeliveredOutcome(204, "")
}

func TestPool_AtMostOneInFlightPerConversation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	queue := core.NewDeliveryQueue(store.QueueStore())
	sender := &blockingSender{active: map[string]int{}, release: make(chan struct{})}
	pool, err := NewPool(queue, store.HoldStore(), sender, DefaultConfig())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	for _, batch := range []core.FinalizedBatch{
		{ConversationID: "u1", Messages: []any{"a"}},
		{ConversationID: "u1", Messages: []any{"b"}},
		{ConversationID: "u2", Messages: []any{"c"}},
	} {
		if err := queue.Push(ctx, batch); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	first, err := pool.Tick(ctx)
	if err != nil || first != 2 {
		t.Fatalf("expected two dispatches, got %d err=%v", first, err)
	}
	second, err := pool.Tick(ctx)
	if err != nil || second != 0 {
		t.Fatalf("expected busy conversation skipped, got %d err=%v", second, err)
	}
	if inFlight := pool.InFlight(); len(inFlight) != 2 || inFlight[0] != "u1" || inFlight[1] != "u2" {
		t.Fatalf("unexpected in-flight set: %v", inFlight)
	}
	close(sender.release)
	pool.Wait()

	if third, _ := pool.Tick(ctx); third != 1 {
		t.Fatalf("expected queued batch dispatched after release, got %d", third)
	}
	pool.Wait()
	if sender.overlap {
		t.Fatalf("observed concurrent deliveries for one conversation")
	}
	if len(pool.InFlight()) != 0 {
		t.Fatalf("expected all slots released")
	}
}

func TestPool_RespectsSlotLimit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	queue := core.NewDeliveryQueue(store.QueueStore())
	sender := &blockingSender{active: map[string]int{}, release: make(chan struct{})}
	config := DefaultConfig()
	config.MaxSlots = 1
	pool, err := NewPool(queue, store.HoldStore(), sender, config)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	_ = queue.Push(ctx, core.FinalizedBatch{ConversationID: "u1", Messages: []any{"a"}})
	_ = queue.Push(ctx, core.FinalizedBatch{ConversationID: "u2", Messages: []any{"b"}})

	if dispatched, _ := pool.Tick(ctx); dispatched != 1 {
		t.Fatalf("expected slot limit to cap dispatch at 1, got %d", dispatched)
	}
	close(sender.release)
	pool.Wait()
	if dispatched, _ := pool.Tick(ctx); dispatched != 1 {
		t.Fatalf("expected second conversation dispatched once slot frees, got %d", dispatched)
	}
	pool.Wait()
}

func TestPool_SkipsMalformedBatch(t *testing.T) {
	ctx := context.Background()
	fx := newPoolFixture(t, DefaultConfig())
	if err := fx.store.Queues().Push(ctx, "u1", []byte("{not json")); err != nil {
		t.Fatalf("push raw: %v", err)
	}
	fx.enqueue(t, "u1", "hi")

	dispatched, err := fx.pool.Tick(ctx)
	if err != nil || dispatched != 0 {
		t.Fatalf("expected malformed batch skipped without error, got %d err=%v", dispatched, err)
	}
	if len(fx.pool.InFlight()) != 0 {
		t.Fatalf("expected slot released after malformed batch")
	}
	if dispatched := fx.tick(t); dispatched != 1 {
		t.Fatalf("expected good batch delivered next tick, got %d", dispatched)
	}
}

func TestPool_SenderPanicIsTreatedAsFailure(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := memory.New(memory.WithClock(clock.Now))
	defer store.Close()
	queue := core.NewDeliveryQueue(store.QueueStore())
	sender := core.SenderFunc(func(context.Context, string, map[string]any) core.DeliveryOutcome {
		panic("boom")
	})
	pool, err := NewPool(queue, store.HoldStore(), sender, DefaultConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	_ = queue.Push(ctx, core.FinalizedBatch{ConversationID: "u1", Messages: []any{"a"}})

	if _, err := pool.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	pool.Wait()
	hold, ok, _ := store.Holds().Get(ctx, "u1")
	if !ok || hold.RetryCount != 1 || !hold.DueAt.Equal(clock.Now().Add(30*time.Second)) {
		t.Fatalf("expected retry hold after panic, got %+v ok=%v", hold, ok)
	}
	if len(pool.InFlight()) != 0 {
		t.Fatalf("expected slot released after panic")
	}
}

func TestPool_RunStopsOnCancel(t *testing.T) {
	store := memory.New()
	defer store.Close()
	queue := core.NewDeliveryQueue(store.QueueStore())
	var mu sync.Mutex
	delivered := 0
	sender := core.SenderFunc(func(context.Context, string, map[string]any) core.DeliveryOutcome {
		mu.Lock()
		delivered++
		mu.Unlock()
		return core.DeliveredOutcome(200, "")
	})
	config := DefaultConfig()
	config.TickInterval = 5 * time.Millisecond
	pool, err := NewPool(queue, store.HoldStore(), sender, config)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	_ = queue.Push(ctx, core.FinalizedBatch{ConversationID: "u1", Messages: []any{"a"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		count := delivered
		mu.Unlock()
		if count == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
}

func TestNewPool_RequiresDependencies(t *testing.T) {
	store := memory.New()
	queue := core.NewDeliveryQueue(store.QueueStore())
	if _, err := NewPool(queue, store.HoldStore(), nil, DefaultConfig()); err == nil {
		t.Fatalf("expected missing sender error")
	}
	if _, err := NewPool(queue, nil, core.SenderFunc(nil), DefaultConfig()); err == nil {
		t.Fatalf("expected missing hold store error")
	}
}
