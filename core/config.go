package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverSQLite   = "sqlite3"
	StoreDriverPostgres = "postgres"
)

const (
	DefaultTTLSeconds       = 15
	DefaultMaxSlots         = 15
	DefaultMaxRetries       = 3
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultErrorPause       = time.Second
	DefaultPollInterval     = time.Second
	DefaultWebhookTimeout   = 61 * time.Second
	DefaultAuditRetention   = 30 * 24 * time.Hour
	DefaultWebhookUserAgent = "go-debouncer/1.0"
)

// DefaultRetryDelays is the backoff ladder applied after the 1st, 2nd and 3rd failure.
func DefaultRetryDelays() []time.Duration {
	return []time.Duration{30 * time.Second, 180 * time.Second, 300 * time.Second}
}

type StoreConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver" yaml:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn" yaml:"dsn"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout" yaml:"ping_timeout"`
	Debug       bool          `koanf:"debug" mapstructure:"debug" yaml:"debug"`
}

type BreakerConfig struct {
	Enabled             bool          `koanf:"enabled" mapstructure:"enabled" yaml:"enabled"`
	ConsecutiveFailures int           `koanf:"consecutive_failures" mapstructure:"consecutive_failures" yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `koanf:"open_timeout" mapstructure:"open_timeout" yaml:"open_timeout"`
}

type WebhookConfig struct {
	URL              string        `koanf:"url" mapstructure:"url" yaml:"url"`
	UserAgent        string        `koanf:"user_agent" mapstructure:"user_agent" yaml:"user_agent"`
	Timeout          time.Duration `koanf:"timeout" mapstructure:"timeout" yaml:"timeout"`
	MaxResponseBytes int64         `koanf:"max_response_bytes" mapstructure:"max_response_bytes" yaml:"max_response_bytes"`
	Breaker          BreakerConfig `koanf:"breaker" mapstructure:"breaker" yaml:"breaker"`
}

type DebounceConfig struct {
	DefaultTTLSeconds int           `koanf:"default_ttl_seconds" mapstructure:"default_ttl_seconds" yaml:"default_ttl_seconds"`
	PollInterval      time.Duration `koanf:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`
	PollBatchSize     int           `koanf:"poll_batch_size" mapstructure:"poll_batch_size" yaml:"poll_batch_size"`
	Notifications     bool          `koanf:"notifications" mapstructure:"notifications" yaml:"notifications"`
}

type DeliveryConfig struct {
	MaxSlots     int             `koanf:"max_slots" mapstructure:"max_slots" yaml:"max_slots"`
	MaxRetries   int             `koanf:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelays  []time.Duration `koanf:"retry_delays" mapstructure:"retry_delays" yaml:"retry_delays"`
	TickInterval time.Duration   `koanf:"tick_interval" mapstructure:"tick_interval" yaml:"tick_interval"`
	ErrorPause   time.Duration   `koanf:"error_pause" mapstructure:"error_pause" yaml:"error_pause"`
}

type AuditConfig struct {
	Retention     time.Duration `koanf:"retention" mapstructure:"retention" yaml:"retention"`
	BufferSize    int           `koanf:"buffer_size" mapstructure:"buffer_size" yaml:"buffer_size"`
	WriteTimeout  time.Duration `koanf:"write_timeout" mapstructure:"write_timeout" yaml:"write_timeout"`
	PurgeInterval time.Duration `koanf:"purge_interval" mapstructure:"purge_interval" yaml:"purge_interval"`
	CacheTTL      time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type LogConfig struct {
	Level  string `koanf:"level" mapstructure:"level" yaml:"level"`
	Pretty bool   `koanf:"pretty" mapstructure:"pretty" yaml:"pretty"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name" yaml:"service_name"`
	Store       StoreConfig    `koanf:"store" mapstructure:"store" yaml:"store"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook" yaml:"webhook"`
	Debounce    DebounceConfig `koanf:"debounce" mapstructure:"debounce" yaml:"debounce"`
	Delivery    DeliveryConfig `koanf:"delivery" mapstructure:"delivery" yaml:"delivery"`
	Audit       AuditConfig    `koanf:"audit" mapstructure:"audit" yaml:"audit"`
	Log         LogConfig      `koanf:"log" mapstructure:"log" yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "debouncer",
		Store: StoreConfig{
			Driver:      StoreDriverMemory,
			PingTimeout: 5 * time.Second,
		},
		Webhook: WebhookConfig{
			UserAgent:        DefaultWebhookUserAgent,
			Timeout:          DefaultWebhookTimeout,
			MaxResponseBytes: 1 << 20,
			Breaker: BreakerConfig{
				Enabled:             false,
				ConsecutiveFailures: 20,
				OpenTimeout:         30 * time.Second,
			},
		},
		Debounce: DebounceConfig{
			DefaultTTLSeconds: DefaultTTLSeconds,
			PollInterval:      DefaultPollInterval,
			PollBatchSize:     100,
			Notifications:     true,
		},
		Delivery: DeliveryConfig{
			MaxSlots:     DefaultMaxSlots,
			MaxRetries:   DefaultMaxRetries,
			RetryDelays:  DefaultRetryDelays(),
			TickInterval: DefaultTickInterval,
			ErrorPause:   DefaultErrorPause,
		},
		Audit: AuditConfig{
			Retention:     DefaultAuditRetention,
			BufferSize:    256,
			WriteTimeout:  5 * time.Second,
			PurgeInterval: time.Hour,
			CacheTTL:      5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.TrimSpace(strings.ToLower(c.Store.Driver)) {
	case "", StoreDriverMemory, StoreDriverSQLite, "sqlite", StoreDriverPostgres, "pg":
	default:
		return fmt.Errorf("core: store.driver %q is invalid", c.Store.Driver)
	}
	if raw := strings.TrimSpace(c.Webhook.URL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: webhook.url %q is invalid", raw)
		}
	}
	if c.Debounce.DefaultTTLSeconds < 0 {
		return fmt.Errorf("core: debounce.default_ttl_seconds must be positive")
	}
	if c.Delivery.MaxSlots < 0 {
		return fmt.Errorf("core: delivery.max_slots must be positive")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("core: delivery.max_retries must be positive")
	}
	for _, delay := range c.Delivery.RetryDelays {
		if delay < 0 {
			return fmt.Errorf("core: delivery.retry_delays must be positive")
		}
	}
	return nil
}

// Normalized fills zero values with defaults so components can trust the config.
func (c Config) Normalized() Config {
	defaults := DefaultConfig()
	out := c
	if strings.TrimSpace(out.ServiceName) == "" {
		out.ServiceName = defaults.ServiceName
	}
	out.Store.Driver = NormalizeStoreDriver(out.Store.Driver)
	if out.Store.PingTimeout <= 0 {
		out.Store.PingTimeout = defaults.Store.PingTimeout
	}
	out.Webhook.URL = strings.TrimRight(strings.TrimSpace(out.Webhook.URL), "/")
	if strings.TrimSpace(out.Webhook.UserAgent) == "" {
		out.Webhook.UserAgent = defaults.Webhook.UserAgent
	}
	if out.Webhook.Timeout <= 0 {
		out.Webhook.Timeout = defaults.Webhook.Timeout
	}
	if out.Webhook.MaxResponseBytes <= 0 {
		out.Webhook.MaxResponseBytes = defaults.Webhook.MaxResponseBytes
	}
	if out.Webhook.Breaker.ConsecutiveFailures <= 0 {
		out.Webhook.Breaker.ConsecutiveFailures = defaults.Webhook.Breaker.ConsecutiveFailures
	}
	if out.Webhook.Breaker.OpenTimeout <= 0 {
		out.Webhook.Breaker.OpenTimeout = defaults.Webhook.Breaker.OpenTimeout
	}
	if out.Debounce.DefaultTTLSeconds <= 0 {
		out.Debounce.DefaultTTLSeconds = defaults.Debounce.DefaultTTLSeconds
	}
	if out.Debounce.PollInterval <= 0 {
		out.Debounce.PollInterval = defaults.Debounce.PollInterval
	}
	if out.Debounce.PollBatchSize <= 0 {
		out.Debounce.PollBatchSize = defaults.Debounce.PollBatchSize
	}
	if out.Delivery.MaxSlots <= 0 {
		out.Delivery.MaxSlots = defaults.Delivery.MaxSlots
	}
	if out.Delivery.MaxRetries <= 0 {
		out.Delivery.MaxRetries = defaults.Delivery.MaxRetries
	}
	if len(out.Delivery.RetryDelays) == 0 {
		out.Delivery.RetryDelays = defaults.Delivery.RetryDelays
	} else {
		out.Delivery.RetryDelays = append([]time.Duration(nil), out.Delivery.RetryDelays...)
	}
	if out.Delivery.TickInterval <= 0 {
		out.Delivery.TickInterval = defaults.Delivery.TickInterval
	}
	if out.Delivery.ErrorPause <= 0 {
		out.Delivery.ErrorPause = defaults.Delivery.ErrorPause
	}
	if out.Audit.Retention <= 0 {
		out.Audit.Retention = defaults.Audit.Retention
	}
	if out.Audit.BufferSize <= 0 {
		out.Audit.BufferSize = defaults.Audit.BufferSize
	}
	if out.Audit.WriteTimeout <= 0 {
		out.Audit.WriteTimeout = defaults.Audit.WriteTimeout
	}
	if out.Audit.PurgeInterval <= 0 {
		out.Audit.PurgeInterval = defaults.Audit.PurgeInterval
	}
	if out.Audit.CacheTTL <= 0 {
		out.Audit.CacheTTL = defaults.Audit.CacheTTL
	}
	if strings.TrimSpace(out.Log.Level) == "" {
		out.Log.Level = defaults.Log.Level
	}
	return out
}

func NormalizeStoreDriver(driver string) string {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "", StoreDriverMemory:
		return StoreDriverMemory
	case StoreDriverSQLite, "sqlite":
		return StoreDriverSQLite
	case StoreDriverPostgres, "pg":
		return StoreDriverPostgres
	default:
		return strings.TrimSpace(strings.ToLower(driver))
	}
}
