// Package gologger binds the glog contracts to zerolog.
package gologger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-debouncer/core"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// Logger adapts a zerolog.Logger to glog.Logger. Args are key/value pairs.
type Logger struct {
	base zerolog.Logger
	ctx  context.Context
}

// Provider hands out named child loggers sharing one zerolog writer.
type Provider struct {
	base zerolog.Logger
}

// NewProvider builds a provider writing JSON lines to w, or human readable
// console output when cfg.Pretty is set. A nil writer means stderr.
func NewProvider(w io.Writer, cfg core.LogConfig) (*Provider, error) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return nil, core.ConfigError("gologger: invalid log level", map[string]any{
				"level": cfg.Level,
			})
		}
		level = parsed
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Provider{base: base}, nil
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &Logger{base: p.base}
	}
	return &Logger{base: p.base.With().Str("logger", name).Logger()}
}

func (l *Logger) Trace(msg string, args ...any) { l.emit(zerolog.TraceLevel, msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.emit(zerolog.DebugLevel, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(zerolog.InfoLevel, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(zerolog.WarnLevel, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.emit(zerolog.ErrorLevel, msg, args) }

// Fatal logs at fatal level without exiting; process exit stays with the caller.
func (l *Logger) Fatal(msg string, args ...any) { l.emit(zerolog.FatalLevel, msg, args) }

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if l == nil {
		return glog.Nop()
	}
	return &Logger{base: l.base, ctx: ctx}
}

func (l *Logger) emit(level zerolog.Level, msg string, args []any) {
	if l == nil {
		return
	}
	event := l.base.WithLevel(level)
	if event == nil {
		return
	}
	if l.ctx != nil {
		event = event.Ctx(l.ctx)
	}
	if fields := pairs(args); len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(msg)
}

// pairs turns key/value args into a field map. A dangling value is kept
// under "!BADKEY" so nothing is silently lost.
func pairs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	fields := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		fields[key] = args[i+1]
	}
	return fields
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
