package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type BufferStore interface {
	// Append adds message to the conversation window, replacing metadata and
	// resetting the inactivity timer to ttl. A missing buffer starts a new window.
	Append(
		ctx context.Context,
		conversationID string,
		message any,
		metadata map[string]any,
		ttl time.Duration,
	) (ConversationBuffer, error)
	Get(ctx context.Context, conversationID string) (ConversationBuffer, bool, error)
	// Release drops the first consumed messages of a finalized buffer. When the
	// revision still matches, the whole buffer is deleted.
	Release(ctx context.Context, conversationID string, revision int64, consumed int) error
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
	List(ctx context.Context) ([]ConversationBuffer, error)
}

// ExpiryNotifier is implemented by substrates that can push timer expirations.
// Delivery is best effort: notifications may be dropped or duplicated.
type ExpiryNotifier interface {
	ExpiryNotifications(ctx context.Context) (<-chan string, error)
}

type QueueStore interface {
	Push(ctx context.Context, conversationID string, payload []byte) error
	Pop(ctx context.Context, conversationID string) ([]byte, bool, error)
	Pending(ctx context.Context) ([]string, error)
	Depth(ctx context.Context, conversationID string) (int, error)
}

type HoldStore interface {
	Create(ctx context.Context, hold RetryHold) error
	Get(ctx context.Context, conversationID string) (RetryHold, bool, error)
	Update(ctx context.Context, conversationID string, mutate func(*RetryHold) error) error
	Due(ctx context.Context, now time.Time, limit int) ([]RetryHold, error)
	Delete(ctx context.Context, conversationID string) error
	List(ctx context.Context) ([]RetryHold, error)
}

type AuditLog interface {
	Record(ctx context.Context, record AuditRecord) error
}

type AuditReader interface {
	History(ctx context.Context, conversationID string, limit int) ([]AuditRecord, error)
}

type AuditPurger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}

type Sender interface {
	Send(ctx context.Context, conversationID string, payload map[string]any) DeliveryOutcome
}

type SenderFunc func(ctx context.Context, conversationID string, payload map[string]any) DeliveryOutcome

func (f SenderFunc) Send(ctx context.Context, conversationID string, payload map[string]any) DeliveryOutcome {
	return f(ctx, conversationID, payload)
}

type StoreProvider interface {
	BufferStore() BufferStore
	QueueStore() QueueStore
	HoldStore() HoldStore
	AuditLog() AuditLog
	AuditReader() AuditReader
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// PipelineService is the surface exposed to ingest and dashboard collaborators.
type PipelineService interface {
	AppendMessage(ctx context.Context, req AppendRequest) (ConversationBuffer, error)
	AuditHistory(ctx context.Context, conversationID string, limit int) ([]AuditRecord, error)
	QueueStatus(ctx context.Context) ([]QueueStatus, error)
}
