package query

import (
	"strings"
)

const (
	TypeAuditHistory = "debouncer.query.audit.history"
	TypeQueueStatus  = "debouncer.query.queue.status"
)

type AuditHistoryMessage struct {
	ConversationID string
	Limit          int
}

func (AuditHistoryMessage) Type() string { return TypeAuditHistory }

func (m AuditHistoryMessage) Validate() error {
	if strings.TrimSpace(m.ConversationID) == "" {
		return queryValidationError("conversation_id", "conversation id is required")
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type QueueStatusMessage struct{}

func (QueueStatusMessage) Type() string { return TypeQueueStatus }

func (QueueStatusMessage) Validate() error { return nil }
