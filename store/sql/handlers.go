package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func auditHandlers() repository.ModelHandlers[*auditRecord] {
	return repository.ModelHandlers[*auditRecord]{
		NewRecord: func() *auditRecord {
			return &auditRecord{}
		},
		GetID: func(record *auditRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *auditRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *auditRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

// holdHandlers keys holds by conversation id; they carry no uuid.
func holdHandlers() repository.ModelHandlers[*holdRecord] {
	return repository.ModelHandlers[*holdRecord]{
		NewRecord: func() *holdRecord {
			return &holdRecord{}
		},
		GetID: func(record *holdRecord) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(record *holdRecord, id uuid.UUID) {},
		GetIdentifier: func() string {
			return "conversation_id"
		},
		GetIdentifierValue: func(record *holdRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ConversationID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
