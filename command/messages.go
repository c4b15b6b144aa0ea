package command

import (
	"strings"
)

const (
	TypeAppendMessage        = "debouncer.command.message.append"
	TypeFinalizeConversation = "debouncer.command.conversation.finalize"
)

// AppendMessageMessage is the ingest payload. A nil TTLSeconds applies the
// service default window.
type AppendMessageMessage struct {
	ConversationID string
	Message        any
	Metadata       map[string]any
	TTLSeconds     *int
}

func (AppendMessageMessage) Type() string { return TypeAppendMessage }

func (m AppendMessageMessage) Validate() error {
	if strings.TrimSpace(m.ConversationID) == "" {
		return commandValidationError("user", "conversation id is required")
	}
	if m.Message == nil {
		return commandValidationError("message", "message is required")
	}
	if text, ok := m.Message.(string); ok && strings.TrimSpace(text) == "" {
		return commandValidationError("message", "message is required")
	}
	if m.TTLSeconds != nil && *m.TTLSeconds <= 0 {
		return commandConfigError("command: ttl must be positive", map[string]any{
			"conversation_id": strings.TrimSpace(m.ConversationID),
			"ttl_seconds":     *m.TTLSeconds,
		})
	}
	return nil
}

// FinalizeConversationMessage closes a conversation window ahead of its timer.
type FinalizeConversationMessage struct {
	ConversationID string
}

func (FinalizeConversationMessage) Type() string { return TypeFinalizeConversation }

func (m FinalizeConversationMessage) Validate() error {
	if strings.TrimSpace(m.ConversationID) == "" {
		return commandValidationError("conversation_id", "conversation id is required")
	}
	return nil
}
