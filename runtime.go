package debouncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-debouncer/audit"
	"github.com/goliatone/go-debouncer/core"
	"github.com/goliatone/go-debouncer/delivery"
	"github.com/goliatone/go-debouncer/expiry"
	"github.com/goliatone/go-debouncer/store/memory"
	sqlstore "github.com/goliatone/go-debouncer/store/sql"
	"github.com/goliatone/go-debouncer/webhooks"
)

type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	sender         core.Sender
	store          core.StoreProvider
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	now            func() time.Time
	webhookOptions []webhooks.Option
}

// WithSender replaces the webhook sender built from config.
func WithSender(sender core.Sender) RuntimeOption {
	return func(o *runtimeOptions) {
		o.sender = sender
	}
}

// WithStore supplies the substrate instead of opening one from store config.
// The runtime does not close a supplied store.
func WithStore(store core.StoreProvider) RuntimeOption {
	return func(o *runtimeOptions) {
		o.store = store
	}
}

func WithRuntimeLoggerProvider(provider core.LoggerProvider) RuntimeOption {
	return func(o *runtimeOptions) {
		o.loggerProvider = provider
	}
}

func WithRuntimeMetrics(metrics core.MetricsRecorder) RuntimeOption {
	return func(o *runtimeOptions) {
		o.metrics = metrics
	}
}

func WithRuntimeClock(now func() time.Time) RuntimeOption {
	return func(o *runtimeOptions) {
		o.now = now
	}
}

func WithWebhookOptions(opts ...webhooks.Option) RuntimeOption {
	return func(o *runtimeOptions) {
		o.webhookOptions = append(o.webhookOptions, opts...)
	}
}

// Runtime composes the ingest service with the background components: the
// expiry detector, the delivery pool, the async audit recorder and the audit
// janitor.
type Runtime struct {
	config   Config
	service  *core.Service
	store    core.StoreProvider
	queue    *core.DeliveryQueue
	detector *expiry.Detector
	pool     *delivery.Pool
	recorder *audit.AsyncRecorder
	janitor  *audit.Janitor
	observer core.Observer
	closers  []func() error

	closeOnce sync.Once
	closeErr  error
}

type auditPurgerProvider interface {
	AuditPurger() core.AuditPurger
}

// NewRuntime wires every component from cfg. When no store is supplied it
// opens the configured driver: memory, sqlite3 or postgres.
func NewRuntime(ctx context.Context, cfg Config, opts ...RuntimeOption) (*Runtime, error) {
	options := runtimeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.ConfigError(err.Error(), nil)
	}
	cfg = cfg.Normalized()

	provider, _ := glog.Resolve("debouncer", options.loggerProvider, nil)
	if provider == nil {
		provider = glog.ProviderFromLogger(glog.Nop())
	}
	if options.metrics == nil {
		options.metrics = core.NopMetricsRecorder{}
	}
	if options.now == nil {
		options.now = func() time.Time {
			return time.Now().UTC()
		}
	}
	named := func(name string) core.Logger {
		return glog.Ensure(provider.GetLogger(name))
	}

	rt := &Runtime{
		config:   cfg,
		observer: core.NewObserver(named("debouncer.runtime"), options.metrics),
	}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	store := options.store
	if store == nil {
		opened, closer, err := openStore(ctx, cfg, options.now)
		if err != nil {
			return nil, err
		}
		store = opened
		rt.closers = append(rt.closers, closer)
	}
	rt.store = store

	sender := options.sender
	if sender == nil {
		webhookOpts := append([]webhooks.Option{
			webhooks.WithLogger(named("debouncer.webhooks")),
			webhooks.WithMetricsRecorder(options.metrics),
		}, options.webhookOptions...)
		built, err := webhooks.NewSender(cfg.Webhook, webhookOpts...)
		if err != nil {
			return fail(err)
		}
		sender = built
	}

	service, err := core.NewService(cfg,
		core.WithStoreProvider(store),
		core.WithLoggerProvider(provider),
		core.WithMetricsRecorder(options.metrics),
		core.WithClock(options.now),
	)
	if err != nil {
		return fail(err)
	}
	rt.service = service
	rt.queue = core.NewDeliveryQueue(store.QueueStore())

	rt.detector, err = expiry.NewDetector(store.BufferStore(), rt.queue, expiry.ConfigFrom(cfg.Debounce),
		expiry.WithLogger(named("debouncer.expiry")),
		expiry.WithMetricsRecorder(options.metrics),
		expiry.WithClock(options.now),
	)
	if err != nil {
		return fail(err)
	}

	rt.recorder, err = audit.NewAsyncRecorder(store.AuditLog(), audit.ConfigFrom(cfg.Audit),
		audit.WithLogger(named("debouncer.audit")),
		audit.WithMetricsRecorder(options.metrics),
		audit.WithClock(options.now),
	)
	if err != nil {
		return fail(err)
	}

	rt.pool, err = delivery.NewPool(rt.queue, store.HoldStore(), sender, delivery.ConfigFrom(cfg.Delivery),
		delivery.WithAuditLog(rt.recorder),
		delivery.WithLogger(named("debouncer.delivery")),
		delivery.WithMetricsRecorder(options.metrics),
		delivery.WithClock(options.now),
	)
	if err != nil {
		return fail(err)
	}

	if purgers, ok := store.(auditPurgerProvider); ok && purgers.AuditPurger() != nil {
		rt.janitor, err = audit.NewJanitor(purgers.AuditPurger(), cfg.Audit.PurgeInterval,
			audit.WithJanitorLogger(named("debouncer.audit")),
			audit.WithJanitorClock(options.now),
		)
		if err != nil {
			return fail(err)
		}
	}
	return rt, nil
}

// OpenStore opens the substrate named by cfg.Store without the background
// components. Callers own the returned closer.
func OpenStore(ctx context.Context, cfg Config) (StoreProvider, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, core.ConfigError(err.Error(), nil)
	}
	return openStore(ctx, cfg.Normalized(), func() time.Time {
		return time.Now().UTC()
	})
}

func openStore(ctx context.Context, cfg Config, now func() time.Time) (core.StoreProvider, func() error, error) {
	switch cfg.Store.Driver {
	case core.StoreDriverMemory:
		store := memory.New(
			memory.WithClock(now),
			memory.WithAuditRetention(cfg.Audit.Retention),
		)
		return store, store.Close, nil
	case core.StoreDriverSQLite, core.StoreDriverPostgres:
		client, err := sqlstore.Open(ctx, cfg.Store)
		if err != nil {
			return nil, nil, err
		}
		cacheService, err := newAuditCache(cfg.Audit.CacheTTL)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client,
			sqlstore.WithClock(now),
			sqlstore.WithAuditRetention(cfg.Audit.Retention),
			sqlstore.WithAuditCache(cacheService),
		)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return factory, closePersistence(client), nil
	default:
		return nil, nil, core.ConfigError("debouncer: unsupported store driver", map[string]any{
			"driver": cfg.Store.Driver,
		})
	}
}

func newAuditCache(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

func closePersistence(client *persistence.Client) func() error {
	return func() error {
		return client.Close()
	}
}

func (r *Runtime) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.config
}

func (r *Runtime) Service() *core.Service {
	if r == nil {
		return nil
	}
	return r.service
}

func (r *Runtime) Store() core.StoreProvider {
	if r == nil {
		return nil
	}
	return r.store
}

func (r *Runtime) Detector() *expiry.Detector {
	if r == nil {
		return nil
	}
	return r.detector
}

func (r *Runtime) Pool() *delivery.Pool {
	if r == nil {
		return nil
	}
	return r.pool
}

func (r *Runtime) Recorder() *audit.AsyncRecorder {
	if r == nil {
		return nil
	}
	return r.recorder
}

// Facade returns the go-command handlers bound to this runtime.
func (r *Runtime) Facade() (*Facade, error) {
	if r == nil || r.service == nil {
		return nil, fmt.Errorf("debouncer: runtime is not configured")
	}
	return NewFacade(r.service, WithFinalizer(r.detector))
}

// Run drives the detector, the delivery pool and the audit janitor until ctx
// is cancelled. On return every in-flight delivery has finished and pending
// audit records were flushed or dropped after the audit write timeout.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil || r.detector == nil || r.pool == nil {
		return fmt.Errorf("debouncer: runtime is not configured")
	}
	r.observer.Info(ctx, "pipeline started", map[string]any{
		"store_driver":  r.config.Store.Driver,
		"max_slots":     r.config.Delivery.MaxSlots,
		"max_retries":   r.config.Delivery.MaxRetries,
		"notifications": r.config.Debounce.Notifications,
	})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("debouncer: %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	run("expiry detector", r.detector.Run)
	run("delivery pool", r.pool.Run)
	if r.janitor != nil {
		run("audit janitor", r.janitor.Run)
	}
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Audit.WriteTimeout)
	defer cancel()
	if err := r.recorder.Close(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("debouncer: flush audit: %w", err))
	}
	r.observer.Info(context.WithoutCancel(ctx), "pipeline stopped", nil)
	return errors.Join(errs...)
}

// Close releases the store opened by NewRuntime. It is safe to call more than once.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		var errs []error
		if r.recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.config.Audit.WriteTimeout)
			if err := r.recorder.Close(ctx); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}
		for i := len(r.closers) - 1; i >= 0; i-- {
			if err := r.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
