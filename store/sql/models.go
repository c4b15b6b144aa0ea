package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-debouncer/core"
)

type bufferRecord struct {
	bun.BaseModel `bun:"table:debounce_buffers,alias:dbf"`

	ConversationID string         `bun:"conversation_id,pk"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	Messages       []any          `bun:"messages,type:jsonb,notnull"`
	RetryCount     int            `bun:"retry_count,notnull"`
	Revision       int64          `bun:"revision,notnull"`
	ExpiresAt      time.Time      `bun:"expires_at,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type queueEntryRecord struct {
	bun.BaseModel `bun:"table:debounce_queue_entries,alias:dq"`

	ID             int64     `bun:"id,pk,autoincrement"`
	ConversationID string    `bun:"conversation_id,notnull"`
	Payload        []byte    `bun:"payload,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type holdRecord struct {
	bun.BaseModel `bun:"table:debounce_retry_holds,alias:dh"`

	ConversationID string              `bun:"conversation_id,pk"`
	Batch          core.FinalizedBatch `bun:"batch,type:jsonb,notnull"`
	RetryCount     int                 `bun:"retry_count,notnull"`
	DueAt          time.Time           `bun:"due_at,notnull"`
	CreatedAt      time.Time           `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time           `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditRecord struct {
	bun.BaseModel `bun:"table:debounce_audit_records,alias:da"`

	ID             string         `bun:"id,pk"`
	ConversationID string         `bun:"conversation_id,notnull"`
	Attempt        int            `bun:"attempt,notnull"`
	Status         string         `bun:"status,notnull"`
	Payload        map[string]any `bun:"payload,type:jsonb,notnull"`
	Response       map[string]any `bun:"response,type:jsonb"`
	RecordedAt     time.Time      `bun:"recorded_at,notnull"`
	ExpiresAt      time.Time      `bun:"expires_at,notnull"`
}
