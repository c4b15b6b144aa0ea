package query

import (
	"context"

	"github.com/goliatone/go-debouncer/core"
)

type AuditHistoryReader interface {
	AuditHistory(ctx context.Context, conversationID string, limit int) ([]core.AuditRecord, error)
}

type QueueStatusReader interface {
	QueueStatus(ctx context.Context) ([]core.QueueStatus, error)
}

type AuditHistoryQuery struct {
	reader AuditHistoryReader
}

func NewAuditHistoryQuery(reader AuditHistoryReader) *AuditHistoryQuery {
	return &AuditHistoryQuery{reader: reader}
}

func (q *AuditHistoryQuery) Query(ctx context.Context, msg AuditHistoryMessage) ([]core.AuditRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit history reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.AuditHistory(ctx, msg.ConversationID, msg.Limit)
}

type QueueStatusQuery struct {
	reader QueueStatusReader
}

func NewQueueStatusQuery(reader QueueStatusReader) *QueueStatusQuery {
	return &QueueStatusQuery{reader: reader}
}

func (q *QueueStatusQuery) Query(ctx context.Context, _ QueueStatusMessage) ([]core.QueueStatus, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: queue status reader is required")
	}
	return q.reader.QueueStatus(ctx)
}
