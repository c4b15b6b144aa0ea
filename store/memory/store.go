// Package memory provides an in-process substrate for the debounce pipeline.
// Buffer timers are real and fire expiry notifications, so the detector can
// run event-driven against it exactly as it would against a durable store.
package memory

import (
	"time"

	"github.com/goliatone/go-debouncer/core"
)

const defaultNotificationBuffer = 256

type Option func(*settings)

type settings struct {
	now                func() time.Time
	auditRetention     time.Duration
	notificationBuffer int
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAuditRetention(retention time.Duration) Option {
	return func(s *settings) {
		if retention > 0 {
			s.auditRetention = retention
		}
	}
}

func WithNotificationBuffer(size int) Option {
	return func(s *settings) {
		if size > 0 {
			s.notificationBuffer = size
		}
	}
}

// Store bundles the in-memory buffer, queue, hold and audit stores.
type Store struct {
	buffers *BufferStore
	queues  *QueueStore
	holds   *HoldStore
	audit   *AuditStore
}

func New(opts ...Option) *Store {
	cfg := settings{
		now:                time.Now,
		auditRetention:     core.DefaultAuditRetention,
		notificationBuffer: defaultNotificationBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Store{
		buffers: newBufferStore(cfg.now, cfg.notificationBuffer),
		queues:  newQueueStore(),
		holds:   newHoldStore(cfg.now),
		audit:   newAuditStore(cfg.now, cfg.auditRetention),
	}
}

func (s *Store) BufferStore() core.BufferStore { return s.buffers }
func (s *Store) QueueStore() core.QueueStore   { return s.queues }
func (s *Store) HoldStore() core.HoldStore     { return s.holds }
func (s *Store) AuditLog() core.AuditLog       { return s.audit }
func (s *Store) AuditReader() core.AuditReader { return s.audit }
func (s *Store) AuditPurger() core.AuditPurger { return s.audit }

func (s *Store) Buffers() *BufferStore { return s.buffers }
func (s *Store) Queues() *QueueStore   { return s.queues }
func (s *Store) Holds() *HoldStore     { return s.holds }
func (s *Store) Audit() *AuditStore    { return s.audit }

// Close stops every buffer timer and closes notification subscriptions.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.buffers.close()
	return nil
}

var (
	_ core.StoreProvider  = (*Store)(nil)
	_ core.BufferStore    = (*BufferStore)(nil)
	_ core.ExpiryNotifier = (*BufferStore)(nil)
	_ core.QueueStore     = (*QueueStore)(nil)
	_ core.HoldStore      = (*HoldStore)(nil)
	_ core.AuditLog       = (*AuditStore)(nil)
	_ core.AuditReader    = (*AuditStore)(nil)
	_ core.AuditPurger    = (*AuditStore)(nil)
)
