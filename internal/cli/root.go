package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	debouncer "github.com/goliatone/go-debouncer"
	"github.com/goliatone/go-debouncer/adapters/gocommand"
	"github.com/goliatone/go-debouncer/adapters/gologger"
	"github.com/goliatone/go-debouncer/core"
	"github.com/goliatone/go-debouncer/expiry"
)

// Options holds the flags shared by every subcommand.
type Options struct {
	ConfigPath string
	LogLevel   string
	Pretty     bool

	Out    io.Writer
	ErrOut io.Writer
}

// NewRootCmd builds the debouncer command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &Options{Out: os.Stdout, ErrOut: os.Stderr}
	rootCmd := &cobra.Command{
		Use:           "debouncer",
		Short:         "Aggregate conversation bursts and deliver them to a webhook",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.Out = cmd.OutOrStdout()
			opts.ErrOut = cmd.ErrOrStderr()
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.Pretty, "pretty", false, "human readable console logs")

	rootCmd.AddCommand(ServeCmd(opts))
	rootCmd.AddCommand(AppendCmd(opts))
	rootCmd.AddCommand(FinalizeCmd(opts))
	rootCmd.AddCommand(HistoryCmd(opts))
	rootCmd.AddCommand(QueuesCmd(opts))
	rootCmd.AddCommand(ConfigCmd(opts))
	return rootCmd
}

// LoadConfig resolves defaults, the config file, DEBOUNCER_* variables and
// the log flags, in that order.
func (o *Options) LoadConfig(ctx context.Context) (debouncer.Config, error) {
	runtime := debouncer.Config{
		Log: core.LogConfig{
			Level:  strings.TrimSpace(o.LogLevel),
			Pretty: o.Pretty,
		},
	}
	return debouncer.LoadConfig(ctx, runtime, debouncer.FileAndEnvLoader(o.ConfigPath))
}

func (o *Options) loggerProvider(cfg debouncer.Config) (*gologger.Provider, error) {
	return gologger.NewProvider(o.ErrOut, cfg.Log)
}

// session is a short lived pipeline without the delivery pool. Commands go
// through the go-command dispatcher so the CLI exercises the same handlers a
// host application would register.
type session struct {
	cfg           debouncer.Config
	subscriptions gocommand.PipelineSubscriptions
	closeStore    func() error
}

func openSession(ctx context.Context, opts *Options) (*session, error) {
	cfg, err := opts.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	// Each invocation is its own process, so an in-memory store would drop
	// whatever the command wrote.
	if core.NormalizeStoreDriver(cfg.Store.Driver) == core.StoreDriverMemory {
		return nil, core.ConfigError("cli: one-shot commands need a persistent store, set store.driver to sqlite or postgres", map[string]any{
			"driver": cfg.Store.Driver,
		})
	}
	provider, err := opts.loggerProvider(cfg)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := debouncer.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, closeStore: closeStore}

	service, err := debouncer.NewService(cfg,
		debouncer.WithStoreProvider(store),
		debouncer.WithLoggerProvider(provider),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	detector, err := expiry.NewDetector(store.BufferStore(), core.NewDeliveryQueue(store.QueueStore()),
		expiry.ConfigFrom(cfg.Debounce),
		expiry.WithLogger(provider.GetLogger("debouncer.expiry")),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.subscriptions, err = gocommand.RegisterPipeline(gocommand.NewRegistryAdapter(nil), service, detector)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s == nil {
		return
	}
	s.subscriptions.Unsubscribe()
	if s.closeStore != nil {
		_ = s.closeStore()
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
