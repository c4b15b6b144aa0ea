package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "DEBOUNCER_"

// YAMLConfigLoader reads raw config from a YAML file. A missing file yields
// an empty map when Optional is set.
type YAMLConfigLoader struct {
	Path     string
	Optional bool
}

func (l YAMLConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && l.Optional {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config %s: %w", path, err)
	}
	return normalizeRawDurations(raw), nil
}

type envBinding struct {
	path  []string
	parse func(string) (any, error)
}

var envBindings = map[string]envBinding{
	"SERVICE_NAME":                 {path: []string{"service_name"}, parse: parseString},
	"STORE_DRIVER":                 {path: []string{"store", "driver"}, parse: parseString},
	"STORE_DSN":                    {path: []string{"store", "dsn"}, parse: parseString},
	"STORE_PING_TIMEOUT":           {path: []string{"store", "ping_timeout"}, parse: parseDuration},
	"STORE_DEBUG":                  {path: []string{"store", "debug"}, parse: parseBool},
	"WEBHOOK_URL":                  {path: []string{"webhook", "url"}, parse: parseString},
	"WEBHOOK_USER_AGENT":           {path: []string{"webhook", "user_agent"}, parse: parseString},
	"WEBHOOK_TIMEOUT":              {path: []string{"webhook", "timeout"}, parse: parseDuration},
	"WEBHOOK_MAX_RESPONSE_BYTES":   {path: []string{"webhook", "max_response_bytes"}, parse: parseInt64},
	"WEBHOOK_BREAKER_ENABLED":      {path: []string{"webhook", "breaker", "enabled"}, parse: parseBool},
	"WEBHOOK_BREAKER_FAILURES":     {path: []string{"webhook", "breaker", "consecutive_failures"}, parse: parseInt},
	"WEBHOOK_BREAKER_OPEN_TIMEOUT": {path: []string{"webhook", "breaker", "open_timeout"}, parse: parseDuration},
	"DEBOUNCE_DEFAULT_TTL_SECONDS": {path: []string{"debounce", "default_ttl_seconds"}, parse: parseInt},
	"DEBOUNCE_POLL_INTERVAL":       {path: []string{"debounce", "poll_interval"}, parse: parseDuration},
	"DEBOUNCE_POLL_BATCH_SIZE":     {path: []string{"debounce", "poll_batch_size"}, parse: parseInt},
	"DEBOUNCE_NOTIFICATIONS":       {path: []string{"debounce", "notifications"}, parse: parseBool},
	"DELIVERY_MAX_SLOTS":           {path: []string{"delivery", "max_slots"}, parse: parseInt},
	"DELIVERY_MAX_RETRIES":         {path: []string{"delivery", "max_retries"}, parse: parseInt},
	"DELIVERY_RETRY_DELAYS":        {path: []string{"delivery", "retry_delays"}, parse: parseDurationList},
	"DELIVERY_TICK_INTERVAL":       {path: []string{"delivery", "tick_interval"}, parse: parseDuration},
	"DELIVERY_ERROR_PAUSE":         {path: []string{"delivery", "error_pause"}, parse: parseDuration},
	"AUDIT_RETENTION":              {path: []string{"audit", "retention"}, parse: parseDuration},
	"AUDIT_BUFFER_SIZE":            {path: []string{"audit", "buffer_size"}, parse: parseInt},
	"AUDIT_WRITE_TIMEOUT":          {path: []string{"audit", "write_timeout"}, parse: parseDuration},
	"AUDIT_PURGE_INTERVAL":         {path: []string{"audit", "purge_interval"}, parse: parseDuration},
	"AUDIT_CACHE_TTL":              {path: []string{"audit", "cache_ttl"}, parse: parseDuration},
	"LOG_LEVEL":                    {path: []string{"log", "level"}, parse: parseString},
	"LOG_PRETTY":                   {path: []string{"log", "pretty"}, parse: parseBool},
}

// EnvConfigLoader maps DEBOUNCER_* variables onto the config tree. The bare
// WEBHOOK_URL variable is honored when DEBOUNCER_WEBHOOK_URL is unset.
type EnvConfigLoader struct {
	Prefix string
	Lookup func(string) (string, bool)
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	prefix := l.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}
	raw := map[string]any{}
	for name, binding := range envBindings {
		value, ok := lookup(prefix + name)
		if !ok && name == "WEBHOOK_URL" {
			value, ok = lookup("WEBHOOK_URL")
		}
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		parsed, err := binding.parse(strings.TrimSpace(value))
		if err != nil {
			return nil, ConfigError(fmt.Sprintf("core: invalid %s%s", prefix, name), map[string]any{
				"variable": prefix + name,
				"error":    err.Error(),
			})
		}
		setPath(raw, binding.path, parsed)
	}
	return raw, nil
}

// ChainConfigLoader deep merges loaders in order; later loaders win.
type ChainConfigLoader []RawConfigLoader

func (c ChainConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	merged := map[string]any{}
	for _, loader := range c {
		if loader == nil {
			continue
		}
		raw, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeRaw(merged, raw)
	}
	return merged, nil
}

func mergeRaw(dst map[string]any, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeRaw(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			copied := map[string]any{}
			mergeRaw(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

func setPath(raw map[string]any, path []string, value any) {
	current := raw
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

var durationKeys = map[string]bool{
	"ping_timeout":   true,
	"timeout":        true,
	"open_timeout":   true,
	"poll_interval":  true,
	"tick_interval":  true,
	"error_pause":    true,
	"retention":      true,
	"write_timeout":  true,
	"purge_interval": true,
	"cache_ttl":      true,
}

// normalizeRawDurations converts "30s" style strings under known duration
// keys into time.Duration values before decoding.
func normalizeRawDurations(raw map[string]any) map[string]any {
	for key, value := range raw {
		switch typed := value.(type) {
		case map[string]any:
			raw[key] = normalizeRawDurations(typed)
		case string:
			if durationKeys[key] {
				if parsed, err := time.ParseDuration(strings.TrimSpace(typed)); err == nil {
					raw[key] = parsed
				}
			}
		case []any:
			if key == "retry_delays" {
				delays := make([]time.Duration, 0, len(typed))
				for _, item := range typed {
					delay, err := anyToDuration(item)
					if err != nil {
						delays = nil
						break
					}
					delays = append(delays, delay)
				}
				if delays != nil {
					raw[key] = delays
				}
			}
		}
	}
	return raw
}

func anyToDuration(value any) (time.Duration, error) {
	switch typed := value.(type) {
	case string:
		return time.ParseDuration(strings.TrimSpace(typed))
	case int:
		return time.Duration(typed) * time.Second, nil
	case int64:
		return time.Duration(typed) * time.Second, nil
	case float64:
		return time.Duration(typed * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("unsupported duration %v", value)
	}
}

func parseString(value string) (any, error) {
	return value, nil
}

func parseBool(value string) (any, error) {
	return strconv.ParseBool(value)
}

func parseInt(value string) (any, error) {
	return strconv.Atoi(value)
}

func parseInt64(value string) (any, error) {
	return strconv.ParseInt(value, 10, 64)
}

func parseDuration(value string) (any, error) {
	return time.ParseDuration(value)
}

func parseDurationList(value string) (any, error) {
	parts := strings.Split(value, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		delay, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		delays = append(delays, delay)
	}
	return delays, nil
}
