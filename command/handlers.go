package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-debouncer/core"
)

type IngestService interface {
	AppendMessage(ctx context.Context, req core.AppendRequest) (core.ConversationBuffer, error)
	DefaultTTLSeconds() int
}

type Finalizer interface {
	Finalize(ctx context.Context, conversationID string) (bool, error)
}

type AppendMessageCommand struct {
	service IngestService
}

func NewAppendMessageCommand(service IngestService) *AppendMessageCommand {
	return &AppendMessageCommand{service: service}
}

func (c *AppendMessageCommand) Execute(ctx context.Context, msg AppendMessageMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	ttl := c.service.DefaultTTLSeconds()
	if msg.TTLSeconds != nil {
		ttl = *msg.TTLSeconds
	}
	out, err := c.service.AppendMessage(ctx, core.AppendRequest{
		ConversationID: strings.TrimSpace(msg.ConversationID),
		Message:        msg.Message,
		Metadata:       msg.Metadata,
		TTLSeconds:     ttl,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// FinalizeResult reports whether a buffered window was handed to delivery.
type FinalizeResult struct {
	ConversationID string
	Finalized      bool
}

type FinalizeConversationCommand struct {
	finalizer Finalizer
}

func NewFinalizeConversationCommand(finalizer Finalizer) *FinalizeConversationCommand {
	return &FinalizeConversationCommand{finalizer: finalizer}
}

func (c *FinalizeConversationCommand) Execute(ctx context.Context, msg FinalizeConversationMessage) error {
	if c == nil || c.finalizer == nil {
		return commandDependencyError("command: finalizer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	conversationID := strings.TrimSpace(msg.ConversationID)
	finalized, err := c.finalizer.Finalize(ctx, conversationID)
	if err != nil {
		return err
	}
	storeResult(ctx, FinalizeResult{ConversationID: conversationID, Finalized: finalized})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
