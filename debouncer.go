// Package debouncer aggregates bursts of conversation messages into single
// batches and delivers them to a webhook with bounded retries.
package debouncer

import (
	"context"

	"github.com/goliatone/go-debouncer/core"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type AppendRequest = core.AppendRequest

type ConversationBuffer = core.ConversationBuffer

type FinalizedBatch = core.FinalizedBatch

type AuditRecord = core.AuditRecord

type QueueStatus = core.QueueStatus

type DeliveryOutcome = core.DeliveryOutcome

type Sender = core.Sender

type SenderFunc = core.SenderFunc

type StoreProvider = core.StoreProvider

type RawConfigLoader = core.RawConfigLoader

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithStoreProvider   = core.WithStoreProvider
	WithBufferStore     = core.WithBufferStore
	WithQueueStore      = core.WithQueueStore
	WithHoldStore       = core.WithHoldStore
	WithAuditReader     = core.WithAuditReader
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// LoadConfig layers defaults, the raw values from loader and the runtime
// overrides, then validates the result.
func LoadConfig(ctx context.Context, runtime Config, loader RawConfigLoader) (Config, error) {
	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return core.GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

// FileAndEnvLoader reads path (optional when empty or missing) and then
// DEBOUNCER_* environment variables, which win.
func FileAndEnvLoader(path string) RawConfigLoader {
	return core.ChainConfigLoader{
		core.YAMLConfigLoader{Path: path, Optional: true},
		core.EnvConfigLoader{},
	}
}
