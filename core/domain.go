package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidBatchStateTransition = errors.New("core: invalid batch state transition")
	ErrConversationIDRequired      = errors.New("core: conversation id is required")
)

const (
	MetadataKeyConversation = "user"
	MetadataKeyMessage      = "message"
	MetadataKeyTTL          = "ttl"
)

// ReservedMetadataKeys are stripped from caller metadata before it is buffered.
var ReservedMetadataKeys = []string{MetadataKeyMessage, MetadataKeyTTL}

// ConversationBuffer is the accumulating window for one conversation.
// Revision increments on every append and guards finalize against races.
type ConversationBuffer struct {
	ConversationID string
	Metadata       map[string]any
	Messages       []any
	RetryCount     int
	Revision       int64
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b ConversationBuffer) Expired(now time.Time) bool {
	if b.ExpiresAt.IsZero() {
		return true
	}
	return !b.ExpiresAt.After(now)
}

func (b ConversationBuffer) TTLRemaining(now time.Time) time.Duration {
	if b.Expired(now) {
		return 0
	}
	return b.ExpiresAt.Sub(now)
}

func (b ConversationBuffer) Clone() ConversationBuffer {
	cloned := b
	cloned.Metadata = CloneMetadata(b.Metadata)
	cloned.Messages = cloneMessages(b.Messages)
	return cloned
}

// FinalizedBatch is immutable once produced; helpers return copies.
type FinalizedBatch struct {
	ConversationID string         `json:"conversation_id"`
	Metadata       map[string]any `json:"metadata"`
	Messages       []any          `json:"messages"`
	RetryCount     int            `json:"retry_count"`
	ProcessedAt    time.Time      `json:"processed_at"`
}

func NewFinalizedBatch(buffer ConversationBuffer, processedAt time.Time) FinalizedBatch {
	return FinalizedBatch{
		ConversationID: strings.TrimSpace(buffer.ConversationID),
		Metadata:       CloneMetadata(buffer.Metadata),
		Messages:       cloneMessages(buffer.Messages),
		RetryCount:     0,
		ProcessedAt:    processedAt.UTC(),
	}
}

func (b FinalizedBatch) Clone() FinalizedBatch {
	cloned := b
	cloned.Metadata = CloneMetadata(b.Metadata)
	cloned.Messages = cloneMessages(b.Messages)
	return cloned
}

// Merge folds a later batch into b. Messages are appended in arrival order,
// metadata follows latest-wins, retry count and processed_at are kept.
func (b FinalizedBatch) Merge(later FinalizedBatch) FinalizedBatch {
	merged := b.Clone()
	merged.Messages = append(merged.Messages, cloneMessages(later.Messages)...)
	if len(later.Metadata) > 0 {
		merged.Metadata = CloneMetadata(later.Metadata)
	}
	return merged
}

func (b FinalizedBatch) WithRetryCount(count int) FinalizedBatch {
	cloned := b.Clone()
	if count < 0 {
		count = 0
	}
	cloned.RetryCount = count
	return cloned
}

// RetryHold parks a failed batch until DueAt. At most one per conversation.
type RetryHold struct {
	ConversationID string
	Batch          FinalizedBatch
	RetryCount     int
	DueAt          time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (h RetryHold) Due(now time.Time) bool {
	return !h.DueAt.After(now)
}

func (h RetryHold) Clone() RetryHold {
	cloned := h
	cloned.Batch = h.Batch.Clone()
	return cloned
}

const (
	AuditStatusSending   = "sending"
	AuditStatusSuccess   = "success"
	AuditStatusError     = "error"
	AuditStatusDiscarded = "discarded"
)

type AuditRecord struct {
	ID             string
	ConversationID string
	Attempt        int
	Status         string
	Payload        map[string]any
	Response       map[string]any
	RecordedAt     time.Time
	ExpiresAt      time.Time
}

func ValidAuditStatus(status string) bool {
	switch strings.TrimSpace(status) {
	case AuditStatusSending, AuditStatusSuccess, AuditStatusError, AuditStatusDiscarded:
		return true
	default:
		return false
	}
}

type BatchState string

const (
	BatchStateQueued         BatchState = "queued"
	BatchStateSending        BatchState = "sending"
	BatchStateSuccess        BatchState = "success"
	BatchStateRetryScheduled BatchState = "retry_scheduled"
	BatchStateDiscarded      BatchState = "discarded"
)

// BatchLifecycle tracks one delivery attempt through the worker pool.
type BatchLifecycle struct {
	ConversationID string
	Attempt        int
	State          BatchState
	UpdatedAt      time.Time
}

func (l *BatchLifecycle) TransitionTo(state BatchState, now time.Time) error {
	if l == nil {
		return nil
	}
	if !batchTransitionAllowed(l.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidBatchStateTransition, l.State, state)
	}
	l.State = state
	l.UpdatedAt = now
	return nil
}

func batchTransitionAllowed(from BatchState, to BatchState) bool {
	switch from {
	case BatchStateQueued:
		return to == BatchStateSending
	case BatchStateSending:
		return to == BatchStateSuccess || to == BatchStateRetryScheduled || to == BatchStateDiscarded
	case BatchStateRetryScheduled:
		return to == BatchStateQueued
	default:
		return false
	}
}

const (
	OutcomeKindHTTPStatus   = "http_status"
	OutcomeKindTimeout      = "timeout"
	OutcomeKindRequestError = "request_error"
	OutcomeKindCircuitOpen  = "circuit_open"
)

// DeliveryOutcome is the explicit result of one send attempt. Failures are
// values, not errors; the worker pool decides retry or discard from them.
type DeliveryOutcome struct {
	Success    bool
	Kind       string
	StatusCode int
	Body       string
	Reason     string
	Duration   time.Duration
}

func DeliveredOutcome(statusCode int, body string) DeliveryOutcome {
	return DeliveryOutcome{
		Success:    statusCode >= 200 && statusCode < 300,
		Kind:       OutcomeKindHTTPStatus,
		StatusCode: statusCode,
		Body:       body,
	}
}

func FailedOutcome(kind string, reason string) DeliveryOutcome {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = OutcomeKindRequestError
	}
	return DeliveryOutcome{
		Success: false,
		Kind:    kind,
		Reason:  strings.TrimSpace(reason),
	}
}

// Response renders the outcome in the audit log's response shape.
func (o DeliveryOutcome) Response() map[string]any {
	if o.Kind == OutcomeKindHTTPStatus {
		return map[string]any{
			"status_code": o.StatusCode,
			"body":        o.Body,
		}
	}
	return map[string]any{
		"error": o.Reason,
		"type":  o.Kind,
	}
}

func (o DeliveryOutcome) Error() string {
	if o.Success {
		return ""
	}
	if o.Kind == OutcomeKindHTTPStatus {
		return fmt.Sprintf("webhook returned status %d", o.StatusCode)
	}
	if o.Reason != "" {
		return o.Reason
	}
	return o.Kind
}

type AppendRequest struct {
	ConversationID string
	Message        any
	Metadata       map[string]any
	TTLSeconds     int
}

type QueueStatus struct {
	ConversationID string
	Depth          int
	Buffered       int
	TTLRemaining   time.Duration
	RetryDueAt     *time.Time
}

// NormalizeMetadata copies caller metadata without the reserved keys.
func NormalizeMetadata(metadata map[string]any) map[string]any {
	out := CloneMetadata(metadata)
	for _, key := range ReservedMetadataKeys {
		delete(out, key)
	}
	return out
}

func CloneMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneMessages(in []any) []any {
	if len(in) == 0 {
		return []any{}
	}
	return append([]any(nil), in...)
}
