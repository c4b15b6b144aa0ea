// Package expiry turns expired conversation buffers into finalized batches.
// Notifications from the substrate drive it when available; a periodic sweep
// reconciles anything the notifications missed.
package expiry

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
	PollInterval  time.Duration
	BatchSize     int
	Notifications bool
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  core.DefaultPollInterval,
		BatchSize:     100,
		Notifications: true,
	}
}

// ConfigFrom maps the debounce section of the service config.
func ConfigFrom(cfg core.DebounceConfig) Config {
	return Config{
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.PollBatchSize,
		Notifications: cfg.Notifications,
	}
}

type Option func(*Detector)

func WithLogger(logger core.Logger) Option {
	return func(d *Detector) {
		d.observer = core.NewObserver(logger, d.metrics)
		d.logger = logger
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(d *Detector) {
		d.metrics = metrics
		d.observer = core.NewObserver(d.logger, metrics)
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithNotifier overrides the notification source. By default the buffer
// store is used when it implements core.ExpiryNotifier.
func WithNotifier(notifier core.ExpiryNotifier) Option {
	return func(d *Detector) {
		d.notifier = notifier
	}
}

type Detector struct {
	buffers  core.BufferStore
	queue    *core.DeliveryQueue
	notifier core.ExpiryNotifier
	config   Config
	logger   core.Logger
	metrics  core.MetricsRecorder
	observer core.Observer
	now      func() time.Time

	mu sync.Mutex
}

func NewDetector(
	buffers core.BufferStore,
	queue *core.DeliveryQueue,
	config Config,
	opts ...Option,
) (*Detector, error) {
	if buffers == nil {
		return nil, fmt.Errorf("expiry: buffer store is required")
	}
	if queue == nil || queue.Store() == nil {
		return nil, fmt.Errorf("expiry: delivery queue is required")
	}
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	detector := &Detector{
		buffers:  buffers,
		queue:    queue,
		config:   config,
		metrics:  core.NopMetricsRecorder{},
		observer: core.NewObserver(nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if notifier, ok := buffers.(core.ExpiryNotifier); ok {
		detector.notifier = notifier
	}
	for _, opt := range opts {
		if opt != nil {
			opt(detector)
		}
	}
	return detector, nil
}

// Run consumes expiry notifications and sweeps on every poll interval until
// ctx is cancelled. Iteration failures are logged and never stop the loop.
func (d *Detector) Run(ctx context.Context) error {
	var notifications <-chan string
	if d.config.Notifications && d.notifier != nil {
		ch, err := d.notifier.ExpiryNotifications(ctx)
		if err != nil {
			d.observer.Warn(ctx, "expiry notifications unavailable, polling only", map[string]any{
				"error": err.Error(),
			})
		} else {
			notifications = ch
		}
	}

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case conversationID, ok := <-notifications:
			if !ok {
				notifications = nil
				if ctx.Err() == nil {
					d.observer.Warn(ctx, "expiry notification stream closed, polling only", nil)
				}
				continue
			}
			if _, err := d.Finalize(ctx, conversationID); err != nil {
				d.observer.Error(ctx, "finalize from notification failed", map[string]any{
					"conversation_id": conversationID,
					"error":           err.Error(),
				})
			}
		case <-ticker.C:
			d.sweepAndLog(ctx)
		}
	}
}

func (d *Detector) sweepAndLog(ctx context.Context) {
	if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
		d.observer.Error(ctx, "expiry sweep failed", map[string]any{
			"error": err.Error(),
		})
	}
}

// Sweep finalizes every buffer whose timer is at or past expiry and returns
// how many batches were produced.
func (d *Detector) Sweep(ctx context.Context) (finalized int, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		fields["finalized"] = finalized
		d.observer.Observe(ctx, startedAt, "expiry_sweep", err, fields)
	}()

	ids, err := d.buffers.Expired(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		return 0, core.StoreUnavailableError(err, "expiry: scan expired buffers failed", nil)
	}
	fields["candidates"] = len(ids)
	var sweepErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ok, finalizeErr := d.Finalize(ctx, id)
		if finalizeErr != nil {
			sweepErr = errors.Join(sweepErr, finalizeErr)
			continue
		}
		if ok {
			finalized++
		}
	}
	return finalized, sweepErr
}

// Finalize moves an expired buffer into the delivery queue. The batch is
// pushed before the buffer is released, so a crash in between duplicates a
// delivery instead of losing it. A missing or still-live buffer is a no-op.
func (d *Detector) Finalize(ctx context.Context, conversationID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	buffer, ok, err := d.buffers.Get(ctx, conversationID)
	if err != nil {
		return false, core.StoreUnavailableError(err, "expiry: read buffer failed", map[string]any{
			"conversation_id": conversationID,
		})
	}
	if !ok || !buffer.Expired(now) {
		return false, nil
	}
	if len(buffer.Messages) == 0 {
		if err := d.buffers.Release(ctx, conversationID, buffer.Revision, 0); err != nil {
			return false, core.StoreUnavailableError(err, "expiry: release empty buffer failed", map[string]any{
				"conversation_id": conversationID,
			})
		}
		return false, nil
	}

	batch := core.NewFinalizedBatch(buffer, now)
	if err := d.queue.Push(ctx, batch); err != nil {
		return false, err
	}
	if err := d.buffers.Release(ctx, conversationID, buffer.Revision, len(buffer.Messages)); err != nil {
		return true, core.StoreUnavailableError(err, "expiry: release buffer failed", map[string]any{
			"conversation_id": conversationID,
		})
	}

	d.observer.Count(ctx, core.MetricBatchFinalized, 1, nil)
	d.observer.Info(ctx, "batch finalized", map[string]any{
		"conversation_id": conversationID,
		"messages":        len(batch.Messages),
		"revision":        buffer.Revision,
	})
	return true, nil
}
