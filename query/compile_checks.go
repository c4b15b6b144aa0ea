package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-debouncer/core"
)

var (
	_ gocmd.Querier[AuditHistoryMessage, []core.AuditRecord] = (*AuditHistoryQuery)(nil)
	_ gocmd.Querier[QueueStatusMessage, []core.QueueStatus]  = (*QueueStatusQuery)(nil)
)
