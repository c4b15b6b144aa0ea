package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-debouncer/core"
)

type RepositoryFactory struct {
	db *bun.DB

	now            func() time.Time
	auditRetention time.Duration
	auditCache     repositorycache.CacheService

	bufferStore *BufferStore
	queueStore  *QueueStore
	holdStore   *HoldStore
	auditStore  *AuditStore
	auditReader core.AuditReader
}

type FactoryOption func(*RepositoryFactory)

func WithClock(now func() time.Time) FactoryOption {
	return func(f *RepositoryFactory) {
		if now != nil {
			f.now = now
		}
	}
}

func WithAuditRetention(retention time.Duration) FactoryOption {
	return func(f *RepositoryFactory) {
		if retention > 0 {
			f.auditRetention = retention
		}
	}
}

// WithAuditCache serves AuditReader through the given cache service.
func WithAuditCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.auditCache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{
		auditRetention: core.DefaultAuditRetention,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.bufferStore != nil && f.auditStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) BufferStore() core.BufferStore {
	if f == nil || f.bufferStore == nil {
		return nil
	}
	return f.bufferStore
}

func (f *RepositoryFactory) QueueStore() core.QueueStore {
	if f == nil || f.queueStore == nil {
		return nil
	}
	return f.queueStore
}

func (f *RepositoryFactory) HoldStore() core.HoldStore {
	if f == nil || f.holdStore == nil {
		return nil
	}
	return f.holdStore
}

func (f *RepositoryFactory) AuditLog() core.AuditLog {
	if f == nil || f.auditStore == nil {
		return nil
	}
	return f.auditStore
}

func (f *RepositoryFactory) AuditReader() core.AuditReader {
	if f == nil {
		return nil
	}
	return f.auditReader
}

func (f *RepositoryFactory) AuditPurger() core.AuditPurger {
	if f == nil || f.auditStore == nil {
		return nil
	}
	return f.auditStore
}

func (f *RepositoryFactory) initStores() error {
	bufferStore, err := NewBufferStore(f.db)
	if err != nil {
		return err
	}
	queueStore, err := NewQueueStore(f.db)
	if err != nil {
		return err
	}
	holdStore, err := NewHoldStore(f.db)
	if err != nil {
		return err
	}
	auditStore, err := NewAuditStore(f.db, f.auditRetention)
	if err != nil {
		return err
	}
	if f.now != nil {
		bufferStore.now = f.now
		queueStore.now = f.now
		holdStore.now = f.now
		auditStore.now = f.now
	}

	f.bufferStore = bufferStore
	f.queueStore = queueStore
	f.holdStore = holdStore
	f.auditStore = auditStore
	f.auditReader = auditStore
	if f.auditCache != nil {
		cached, err := NewCachedAuditReader(auditStore, f.auditCache)
		if err != nil {
			return err
		}
		f.auditReader = cached
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
