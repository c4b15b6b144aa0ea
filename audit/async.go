// Package audit records delivery attempts without letting the audit store
// slow down or fail the delivery path.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-debouncer/core"
)

type Config struct {
	BufferSize   int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:   256,
		WriteTimeout: 5 * time.Second,
	}
}

func ConfigFrom(cfg core.AuditConfig) Config {
	return Config{
		BufferSize:   cfg.BufferSize,
		WriteTimeout: cfg.WriteTimeout,
	}
}

type Option func(*AsyncRecorder)

func WithLogger(logger core.Logger) Option {
	return func(r *AsyncRecorder) {
		r.logger = logger
		r.observer = core.NewObserver(logger, r.metrics)
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(r *AsyncRecorder) {
		r.metrics = metrics
		r.observer = core.NewObserver(r.logger, metrics)
	}
}

// WithFallback receives records the primary log rejected or that did not fit
// in the buffer.
func WithFallback(fallback core.AuditLog) Option {
	return func(r *AsyncRecorder) {
		r.fallback = fallback
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *AsyncRecorder) {
		if now != nil {
			r.now = now
		}
	}
}

// AsyncRecorder is a core.AuditLog that hands records to a single background
// writer. Record never blocks; a full buffer drops the record with a warning.
type AsyncRecorder struct {
	primary  core.AuditLog
	fallback core.AuditLog
	config   Config
	logger   core.Logger
	metrics  core.MetricsRecorder
	observer core.Observer
	now      func() time.Time

	queue chan core.AuditRecord

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	doneCh   chan struct{}
}

func NewAsyncRecorder(primary core.AuditLog, config Config, opts ...Option) (*AsyncRecorder, error) {
	if primary == nil {
		return nil, fmt.Errorf("audit: primary audit log is required")
	}
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	recorder := &AsyncRecorder{
		primary:  primary,
		config:   config,
		metrics:  core.NopMetricsRecorder{},
		observer: core.NewObserver(nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
		queue:  make(chan core.AuditRecord, config.BufferSize),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}

	go recorder.run()
	return recorder, nil
}

func (r *AsyncRecorder) Record(ctx context.Context, record core.AuditRecord) error {
	if r == nil {
		return nil
	}
	if !core.ValidAuditStatus(record.Status) {
		return core.BadInputError("audit: invalid status", map[string]any{
			"status": record.Status,
		})
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = r.now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ctx, record, "recorder closed")
		return nil
	}
	select {
	case r.queue <- record:
	default:
		r.drop(ctx, record, "buffer full")
	}
	return nil
}

func (r *AsyncRecorder) drop(ctx context.Context, record core.AuditRecord, reason string) {
	if r.fallback != nil {
		if err := r.fallback.Record(ctx, record); err == nil {
			return
		}
	}
	r.observer.Count(ctx, core.MetricAuditDropped, 1, map[string]string{"reason": reason})
	r.observer.Warn(ctx, "audit record dropped", map[string]any{
		"conversation_id": record.ConversationID,
		"status":          record.Status,
		"attempt":         record.Attempt,
		"reason":          reason,
	})
}

// Pending reports how many records are waiting for the writer.
func (r *AsyncRecorder) Pending() int {
	return len(r.queue)
}

func (r *AsyncRecorder) run() {
	defer close(r.doneCh)
	for record := range r.queue {
		r.write(record)
	}
}

func (r *AsyncRecorder) write(record core.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()
	err := r.primary.Record(ctx, record)
	if err == nil {
		return
	}
	if r.fallback != nil {
		if fallbackErr := r.fallback.Record(ctx, record); fallbackErr == nil {
			return
		}
	}
	r.observer.Count(ctx, core.MetricAuditWriteFailed, 1, nil)
	r.observer.Warn(ctx, "audit write failed", map[string]any{
		"conversation_id": record.ConversationID,
		"status":          record.Status,
		"attempt":         record.Attempt,
		"error":           err.Error(),
	})
}

// Close stops accepting records and waits for the buffer to flush or ctx to
// end, whichever comes first.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ core.AuditLog = (*AsyncRecorder)(nil)
