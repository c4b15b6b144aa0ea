// Package delivery drains per-conversation delivery queues through a fixed
// number of concurrent slots, applying the retry ladder on failure.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-debouncer/core"
)

type Config struct {
	MaxSlots     int
	MaxRetries   int
	RetryDelays  []time.Duration
	TickInterval time.Duration
	ErrorPause   time.Duration
	// BatchSize bounds how many due holds one tick releases.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		MaxSlots:     core.DefaultMaxSlots,
		MaxRetries:   core.DefaultMaxRetries,
		RetryDelays:  core.DefaultRetryDelays(),
		TickInterval: core.DefaultTickInterval,
		ErrorPause:   core.DefaultErrorPause,
		BatchSize:    100,
	}
}

// ConfigFrom maps the delivery section of the service config.
func ConfigFrom(cfg core.DeliveryConfig) Config {
	return Config{
		MaxSlots:     cfg.MaxSlots,
		MaxRetries:   cfg.MaxRetries,
		RetryDelays:  append([]time.Duration(nil), cfg.RetryDelays...),
		TickInterval: cfg.TickInterval,
		ErrorPause:   cfg.ErrorPause,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.MaxSlots <= 0 {
		c.MaxSlots = defaults.MaxSlots
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = defaults.RetryDelays
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = defaults.ErrorPause
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

type Option func(*Pool)

// WithAuditLog sets where attempt outcomes are recorded. Audit failures are
// logged and never change the delivery path.
func WithAuditLog(log core.AuditLog) Option {
	return func(p *Pool) {
		p.audit = log
	}
}

func WithLogger(logger core.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
		p.observer = core.NewObserver(logger, p.metrics)
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(p *Pool) {
		p.metrics = metrics
		p.observer = core.NewObserver(p.logger, metrics)
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// Pool is the single scheduling loop plus the delivery units it dispatches.
type Pool struct {
	queue     *core.DeliveryQueue
	scheduler *RetryScheduler
	sender    core.Sender
	audit     core.AuditLog
	config    Config
	policy    RetryPolicy
	slots     *slotTracker
	logger    core.Logger
	metrics   core.MetricsRecorder
	observer  core.Observer
	now       func() time.Time

	wg sync.WaitGroup
}

func NewPool(
	queue *core.DeliveryQueue,
	holds core.HoldStore,
	sender core.Sender,
	config Config,
	opts ...Option,
) (*Pool, error) {
	if sender == nil {
		return nil, fmt.Errorf("delivery: sender is required")
	}
	scheduler, err := NewRetryScheduler(holds, queue)
	if err != nil {
		return nil, err
	}
	config = config.normalized()
	pool := &Pool{
		queue:     queue,
		scheduler: scheduler,
		sender:    sender,
		config:    config,
		policy: RetryPolicy{
			MaxRetries: config.MaxRetries,
			Delays:     config.RetryDelays,
		},
		slots:    newSlotTracker(config.MaxSlots),
		metrics:  core.NopMetricsRecorder{},
		observer: core.NewObserver(nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pool)
		}
	}
	scheduler.observer = pool.observer
	scheduler.now = pool.now
	return pool, nil
}

func (p *Pool) Config() Config {
	return p.config
}

func (p *Pool) Scheduler() *RetryScheduler {
	return p.scheduler
}

// InFlight lists conversations with a delivery currently running.
func (p *Pool) InFlight() []string {
	return p.slots.Snapshot()
}

// Wait blocks until every dispatched delivery has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Run ticks until ctx is cancelled, then waits for in-flight deliveries.
// A failed tick is logged and followed by a short pause; it never stops the loop.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()
	defer p.wg.Wait()

	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.observer.Error(ctx, "delivery tick failed", map[string]any{
				"error":       err.Error(),
				"pause_ms":    p.config.ErrorPause.Milliseconds(),
				"in_flight":   p.slots.Active(),
				"max_slots":   p.config.MaxSlots,
				"max_retries": p.config.MaxRetries,
			})
			pause := time.NewTimer(p.config.ErrorPause)
			select {
			case <-ctx.Done():
				pause.Stop()
				return nil
			case <-pause.C:
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling pass: conversations with a retry hold absorb their
// queued batches, others get their head batch dispatched when a slot is free,
// and elapsed holds are put back on the queue. It returns how many deliveries
// were dispatched.
func (p *Pool) Tick(ctx context.Context) (int, error) {
	pending, err := p.queue.Pending(ctx)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	var tickErr error
	for _, conversationID := range pending {
		if ctx.Err() != nil {
			return dispatched, tickErr
		}
		if p.slots.Busy(conversationID) {
			continue
		}
		held, err := p.scheduler.Has(ctx, conversationID)
		if err != nil {
			tickErr = errors.Join(tickErr, err)
			continue
		}
		if held {
			if _, err := p.scheduler.MergeQueued(ctx, conversationID); err != nil {
				tickErr = errors.Join(tickErr, err)
			}
			continue
		}
		ok, err := p.dispatchNext(ctx, conversationID)
		if err != nil {
			tickErr = errors.Join(tickErr, err)
			continue
		}
		if ok {
			dispatched++
		}
	}

	if _, err := p.scheduler.ReleaseDue(ctx, p.config.BatchSize); err != nil {
		tickErr = errors.Join(tickErr, err)
	}
	return dispatched, tickErr
}

func (p *Pool) dispatchNext(ctx context.Context, conversationID string) (bool, error) {
	if !p.slots.TryAcquire(conversationID) {
		return false, nil
	}
	batch, ok, err := p.queue.Pop(ctx, conversationID)
	if err != nil {
		p.slots.Release(conversationID)
		if core.IsMalformedBatch(err) {
			p.observer.Count(ctx, core.MetricMalformedBatch, 1, nil)
			p.observer.Warn(ctx, "malformed queued batch skipped", map[string]any{
				"conversation_id": conversationID,
				"error":           err.Error(),
			})
			return false, nil
		}
		return false, err
	}
	if !ok {
		p.slots.Release(conversationID)
		return false, nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.slots.Release(conversationID)
		p.deliver(context.WithoutCancel(ctx), batch)
	}()
	return true, nil
}

func (p *Pool) deliver(ctx context.Context, batch core.FinalizedBatch) {
	startedAt := time.Now()
	conversationID := strings.TrimSpace(batch.ConversationID)
	attempt := batch.RetryCount + 1
	lifecycle := &core.BatchLifecycle{
		ConversationID: conversationID,
		Attempt:        attempt,
		State:          core.BatchStateQueued,
	}
	p.transition(ctx, lifecycle, core.BatchStateSending)

	payload := core.BuildPayload(batch)
	p.record(ctx, conversationID, attempt, core.AuditStatusSending, payload, nil)
	p.observer.Debug(ctx, "delivery dispatched", map[string]any{
		"conversation_id": conversationID,
		"attempt":         attempt,
		"messages":        len(batch.Messages),
	})

	outcome := p.send(ctx, conversationID, payload)
	fields := map[string]any{
		"conversation_id": conversationID,
		"attempt":         attempt,
		"kind":            outcome.Kind,
	}
	if outcome.StatusCode != 0 {
		fields["status_code"] = outcome.StatusCode
	}

	if outcome.Success {
		p.transition(ctx, lifecycle, core.BatchStateSuccess)
		p.record(ctx, conversationID, attempt, core.AuditStatusSuccess, payload, outcome.Response())
		fields["outcome"] = string(core.BatchStateSuccess)
		p.observer.Observe(ctx, startedAt, "deliver", nil, fields)
		return
	}

	fields["error"] = outcome.Error()
	retryCount := batch.RetryCount + 1
	delay, retry := p.policy.Next(retryCount)
	if !retry {
		p.transition(ctx, lifecycle, core.BatchStateDiscarded)
		p.record(ctx, conversationID, attempt, core.AuditStatusDiscarded, payload, outcome.Response())
		fields["outcome"] = string(core.BatchStateDiscarded)
		fields["messages"] = len(batch.Messages)
		fields["max_retries"] = p.config.MaxRetries
		p.observer.Count(ctx, core.MetricBatchDiscarded, 1, nil)
		p.observer.Error(ctx, "batch discarded after retries exhausted", fields)
		return
	}

	dueAt := p.now().Add(delay)
	retried := batch.WithRetryCount(retryCount)
	if err := p.scheduler.Schedule(ctx, retried, dueAt); err != nil {
		// Pushing back onto the queue would redeliver on the next tick and
		// skip the backoff, so the batch is dropped with its error record.
		p.transition(ctx, lifecycle, core.BatchStateDiscarded)
		p.record(ctx, conversationID, attempt, core.AuditStatusError, payload, outcome.Response())
		fields["outcome"] = string(core.BatchStateDiscarded)
		fields["messages"] = len(batch.Messages)
		fields["hold_error"] = err.Error()
		p.observer.Count(ctx, core.MetricBatchDiscarded, 1, nil)
		p.observer.Error(ctx, "retry hold failed, batch dropped", fields)
		return
	}
	p.transition(ctx, lifecycle, core.BatchStateRetryScheduled)
	p.record(ctx, conversationID, attempt, core.AuditStatusError, payload, outcome.Response())
	fields["outcome"] = string(core.BatchStateRetryScheduled)
	fields["retry_count"] = retryCount
	fields["retry_in_ms"] = delay.Milliseconds()
	p.observer.Observe(ctx, startedAt, "deliver", nil, fields)
	p.observer.Warn(ctx, "delivery failed, retry scheduled", fields)
}

// send converts a panicking sender into a failed outcome so the slot is
// always released through the normal path.
func (p *Pool) send(ctx context.Context, conversationID string, payload map[string]any) (outcome core.DeliveryOutcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = core.FailedOutcome(core.OutcomeKindRequestError, fmt.Sprintf("sender panic: %v", recovered))
		}
	}()
	return p.sender.Send(ctx, conversationID, payload)
}

func (p *Pool) transition(ctx context.Context, lifecycle *core.BatchLifecycle, state core.BatchState) {
	if err := lifecycle.TransitionTo(state, p.now()); err != nil {
		p.observer.Warn(ctx, "unexpected batch state transition", map[string]any{
			"conversation_id": lifecycle.ConversationID,
			"error":           err.Error(),
		})
	}
}

func (p *Pool) record(
	ctx context.Context,
	conversationID string,
	attempt int,
	status string,
	payload map[string]any,
	response map[string]any,
) {
	if p.audit == nil {
		return
	}
	err := p.audit.Record(ctx, core.AuditRecord{
		ConversationID: conversationID,
		Attempt:        attempt,
		Status:         status,
		Payload:        payload,
		Response:       response,
		RecordedAt:     p.now(),
	})
	if err != nil {
		p.observer.Warn(ctx, "audit write failed", map[string]any{
			"conversation_id": conversationID,
			"status":          status,
			"error":           err.Error(),
		})
	}
}
