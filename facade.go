package debouncer

import (
	"fmt"

	debcommand "github.com/goliatone/go-debouncer/command"
	debquery "github.com/goliatone/go-debouncer/query"
)

type CommandQueryService interface {
	debcommand.IngestService
	debquery.AuditHistoryReader
	debquery.QueueStatusReader
}

type Commands struct {
	AppendMessage        *debcommand.AppendMessageCommand
	FinalizeConversation *debcommand.FinalizeConversationCommand
}

type Queries struct {
	AuditHistory *debquery.AuditHistoryQuery
	QueueStatus  *debquery.QueueStatusQuery
}

// Facade exposes the pipeline's go-command handlers for callers that wire
// their own dispatcher.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	finalizer debcommand.Finalizer
}

// WithFinalizer enables the finalize command, usually with the runtime's
// expiry detector.
func WithFinalizer(finalizer debcommand.Finalizer) FacadeOption {
	return func(options *facadeOptions) {
		options.finalizer = finalizer
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("debouncer: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		AppendMessage: debcommand.NewAppendMessageCommand(service),
	}
	if cfg.finalizer != nil {
		facade.commands.FinalizeConversation = debcommand.NewFinalizeConversationCommand(cfg.finalizer)
	}
	facade.queries = Queries{
		AuditHistory: debquery.NewAuditHistoryQuery(service),
		QueueStatus:  debquery.NewQueueStatusQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
