package gocommand

import (
	"context"
	"fmt"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	"github.com/goliatone/go-debouncer/command"
	"github.com/goliatone/go-debouncer/core"
	"github.com/goliatone/go-debouncer/query"
)

// PipelineService is what the dispatcher needs from the ingest and read side.
type PipelineService interface {
	command.IngestService
	query.AuditHistoryReader
	query.QueueStatusReader
}

// PipelineSubscriptions groups the dispatcher subscriptions of one pipeline.
type PipelineSubscriptions []commanddispatcher.Subscription

func (s PipelineSubscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterPipeline subscribes the append and finalize commands and the audit
// history and queue status queries. finalizer may be nil when the process
// does not run an expiry detector.
func RegisterPipeline(
	adapter *RegistryAdapter,
	service PipelineService,
	finalizer command.Finalizer,
	runnerOpts ...runner.Option,
) (PipelineSubscriptions, error) {
	if service == nil {
		return nil, fmt.Errorf("gocommand: pipeline service is required")
	}
	var subscriptions PipelineSubscriptions
	fail := func(err error) (PipelineSubscriptions, error) {
		subscriptions.Unsubscribe()
		return nil, err
	}

	sub, err := RegisterAndSubscribe[command.AppendMessageMessage](adapter, command.NewAppendMessageCommand(service), runnerOpts...)
	if err != nil {
		return fail(err)
	}
	subscriptions = append(subscriptions, sub)

	if finalizer != nil {
		sub, err = RegisterAndSubscribe[command.FinalizeConversationMessage](adapter, command.NewFinalizeConversationCommand(finalizer), runnerOpts...)
		if err != nil {
			return fail(err)
		}
		subscriptions = append(subscriptions, sub)
	}

	sub, err = RegisterAndSubscribeQuery[query.AuditHistoryMessage, []core.AuditRecord](adapter, query.NewAuditHistoryQuery(service), runnerOpts...)
	if err != nil {
		return fail(err)
	}
	subscriptions = append(subscriptions, sub)

	sub, err = RegisterAndSubscribeQuery[query.QueueStatusMessage, []core.QueueStatus](adapter, query.NewQueueStatusQuery(service), runnerOpts...)
	if err != nil {
		return fail(err)
	}
	subscriptions = append(subscriptions, sub)
	return subscriptions, nil
}

// AppendMessage dispatches an append and returns the updated buffer.
func AppendMessage(ctx context.Context, msg command.AppendMessageMessage) (core.ConversationBuffer, error) {
	if err := ValidateMessageContract(msg); err != nil {
		return core.ConversationBuffer{}, err
	}
	collector := gocmd.NewResult[core.ConversationBuffer]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := Dispatch(ctx, msg); err != nil {
		return core.ConversationBuffer{}, err
	}
	buffer, _ := collector.Load()
	return buffer, nil
}

// FinalizeConversation dispatches a finalize and reports whether a batch was
// queued. A live or missing buffer is not finalized.
func FinalizeConversation(ctx context.Context, conversationID string) (command.FinalizeResult, error) {
	msg := command.FinalizeConversationMessage{ConversationID: conversationID}
	if err := ValidateMessageContract(msg); err != nil {
		return command.FinalizeResult{}, err
	}
	collector := gocmd.NewResult[command.FinalizeResult]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := Dispatch(ctx, msg); err != nil {
		return command.FinalizeResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}

func AuditHistory(ctx context.Context, conversationID string, limit int) ([]core.AuditRecord, error) {
	return Query[query.AuditHistoryMessage, []core.AuditRecord](ctx, query.AuditHistoryMessage{
		ConversationID: conversationID,
		Limit:          limit,
	})
}

func QueueStatus(ctx context.Context) ([]core.QueueStatus, error) {
	return Query[query.QueueStatusMessage, []core.QueueStatus](ctx, query.QueueStatusMessage{})
}
