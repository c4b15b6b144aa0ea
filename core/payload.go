package core

import (
	"strings"
	"time"
)

const (
	PayloadKeyUserID      = "user_id"
	PayloadKeyMessages    = "messages"
	PayloadKeyProcessedAt = "processed_at"
)

// BuildPayload renders the outbound webhook body: the batch metadata with
// user_id, messages and processed_at layered on top.
func BuildPayload(batch FinalizedBatch) map[string]any {
	payload := CloneMetadata(batch.Metadata)
	conversationID := strings.TrimSpace(batch.ConversationID)
	if conversationID != "" {
		payload[PayloadKeyUserID] = conversationID
	}
	messages := cloneMessages(batch.Messages)
	payload[PayloadKeyMessages] = messages
	processedAt := batch.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	payload[PayloadKeyProcessedAt] = processedAt.UTC().Format(time.RFC3339Nano)
	return payload
}
