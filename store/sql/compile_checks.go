package sqlstore

import "github.com/goliatone/go-debouncer/core"

var (
	_ core.BufferStore   = (*BufferStore)(nil)
	_ core.QueueStore    = (*QueueStore)(nil)
	_ core.HoldStore     = (*HoldStore)(nil)
	_ core.AuditLog      = (*AuditStore)(nil)
	_ core.AuditReader   = (*AuditStore)(nil)
	_ core.AuditPurger   = (*AuditStore)(nil)
	_ core.StoreProvider = (*RepositoryFactory)(nil)
)
