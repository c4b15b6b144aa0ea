package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	storeProvider   StoreProvider
	bufferStore     BufferStore
	queueStore      QueueStore
	holdStore       HoldStore
	auditReader     AuditReader
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithStoreProvider wires every store from one substrate. Individual store
// options applied afterwards take precedence.
func WithStoreProvider(provider StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.storeProvider = provider
	}
}

func WithBufferStore(store BufferStore) Option {
	return func(b *serviceBuilder) {
		b.bufferStore = store
	}
}

func WithQueueStore(store QueueStore) Option {
	return func(b *serviceBuilder) {
		b.queueStore = store
	}
}

func WithHoldStore(store HoldStore) Option {
	return func(b *serviceBuilder) {
		b.holdStore = store
	}
}

func WithAuditReader(reader AuditReader) Option {
	return func(b *serviceBuilder) {
		b.auditReader = reader
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("debouncer", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now:             time.Now,
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader returns a loader that always yields values.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config and runtime overrides.
// Runtime values only override when they are set.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, true)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved.Normalized(), nil
}

// ConfigMap renders cfg with its config keys, zero values included.
func ConfigMap(cfg Config) map[string]any {
	return configToLayerMap(cfg, true)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	set := func(section map[string]any, key string, value any, zero bool) {
		if includeZero || !zero {
			section[key] = value
		}
	}
	nested := func(key string, section map[string]any) {
		if len(section) > 0 {
			layer[key] = section
		}
	}

	set(layer, "service_name", cfg.ServiceName, strings.TrimSpace(cfg.ServiceName) == "")

	store := map[string]any{}
	set(store, "driver", cfg.Store.Driver, strings.TrimSpace(cfg.Store.Driver) == "")
	set(store, "dsn", cfg.Store.DSN, strings.TrimSpace(cfg.Store.DSN) == "")
	set(store, "ping_timeout", cfg.Store.PingTimeout, cfg.Store.PingTimeout == 0)
	set(store, "debug", cfg.Store.Debug, !cfg.Store.Debug)
	nested("store", store)

	breaker := map[string]any{}
	set(breaker, "enabled", cfg.Webhook.Breaker.Enabled, !cfg.Webhook.Breaker.Enabled)
	set(breaker, "consecutive_failures", cfg.Webhook.Breaker.ConsecutiveFailures, cfg.Webhook.Breaker.ConsecutiveFailures == 0)
	set(breaker, "open_timeout", cfg.Webhook.Breaker.OpenTimeout, cfg.Webhook.Breaker.OpenTimeout == 0)

	webhook := map[string]any{}
	set(webhook, "url", cfg.Webhook.URL, strings.TrimSpace(cfg.Webhook.URL) == "")
	set(webhook, "user_agent", cfg.Webhook.UserAgent, strings.TrimSpace(cfg.Webhook.UserAgent) == "")
	set(webhook, "timeout", cfg.Webhook.Timeout, cfg.Webhook.Timeout == 0)
	set(webhook, "max_response_bytes", cfg.Webhook.MaxResponseBytes, cfg.Webhook.MaxResponseBytes == 0)
	if len(breaker) > 0 {
		webhook["breaker"] = breaker
	}
	nested("webhook", webhook)

	debounce := map[string]any{}
	set(debounce, "default_ttl_seconds", cfg.Debounce.DefaultTTLSeconds, cfg.Debounce.DefaultTTLSeconds == 0)
	set(debounce, "poll_interval", cfg.Debounce.PollInterval, cfg.Debounce.PollInterval == 0)
	set(debounce, "poll_batch_size", cfg.Debounce.PollBatchSize, cfg.Debounce.PollBatchSize == 0)
	set(debounce, "notifications", cfg.Debounce.Notifications, !cfg.Debounce.Notifications)
	nested("debounce", debounce)

	delivery := map[string]any{}
	set(delivery, "max_slots", cfg.Delivery.MaxSlots, cfg.Delivery.MaxSlots == 0)
	set(delivery, "max_retries", cfg.Delivery.MaxRetries, cfg.Delivery.MaxRetries == 0)
	set(delivery, "retry_delays", append([]time.Duration(nil), cfg.Delivery.RetryDelays...), len(cfg.Delivery.RetryDelays) == 0)
	set(delivery, "tick_interval", cfg.Delivery.TickInterval, cfg.Delivery.TickInterval == 0)
	set(delivery, "error_pause", cfg.Delivery.ErrorPause, cfg.Delivery.ErrorPause == 0)
	nested("delivery", delivery)

	audit := map[string]any{}
	set(audit, "retention", cfg.Audit.Retention, cfg.Audit.Retention == 0)
	set(audit, "buffer_size", cfg.Audit.BufferSize, cfg.Audit.BufferSize == 0)
	set(audit, "write_timeout", cfg.Audit.WriteTimeout, cfg.Audit.WriteTimeout == 0)
	set(audit, "purge_interval", cfg.Audit.PurgeInterval, cfg.Audit.PurgeInterval == 0)
	set(audit, "cache_ttl", cfg.Audit.CacheTTL, cfg.Audit.CacheTTL == 0)
	nested("audit", audit)

	logging := map[string]any{}
	set(logging, "level", cfg.Log.Level, strings.TrimSpace(cfg.Log.Level) == "")
	set(logging, "pretty", cfg.Log.Pretty, !cfg.Log.Pretty)
	nested("log", logging)

	return layer
}
