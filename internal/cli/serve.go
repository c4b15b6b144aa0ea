package cli

import (
	"os"
	"os/signal"
	"syscall"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/spf13/cobra"

	debouncer "github.com/goliatone/go-debouncer"
	"github.com/goliatone/go-debouncer/adapters/gocommand"
)

// ServeCmd runs the expiry detector, the delivery pool and the audit janitor
// until interrupted.
func ServeCmd(opts *Options) *cobra.Command {
	var (
		webhookURL     string
		mirrorCommands bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debounce and delivery pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.LoadConfig(ctx)
			if err != nil {
				return err
			}
			if webhookURL != "" {
				cfg.Webhook.URL = webhookURL
			}
			provider, err := opts.loggerProvider(cfg)
			if err != nil {
				return err
			}
			rt, err := debouncer.NewRuntime(ctx, cfg, debouncer.WithRuntimeLoggerProvider(provider))
			if err != nil {
				return err
			}
			defer rt.Close()

			if mirrorCommands {
				subscriptions, err := registerQueueCommands(rt, jobqueuecommand.NewRegistry())
				if err != nil {
					return err
				}
				defer subscriptions.Unsubscribe()
				provider.GetLogger("debouncer.cli").Info("pipeline commands mirrored into job queue registry",
					"resolver", gocommand.QueueResolverKey)
			}

			return rt.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "override webhook.url")
	cmd.Flags().BoolVar(&mirrorCommands, "mirror-commands", false, "register pipeline commands and mirror them into a go-job queue registry")
	return cmd
}

// registerQueueCommands subscribes the pipeline commands of rt and mirrors
// them into queueRegistry, so job workers in this process can run appends.
func registerQueueCommands(rt *debouncer.Runtime, queueRegistry *jobqueuecommand.Registry) (gocommand.PipelineSubscriptions, error) {
	adapter := gocommand.NewRegistryAdapter(nil)
	if err := adapter.MirrorToQueue(queueRegistry); err != nil {
		return nil, err
	}
	subscriptions, err := gocommand.RegisterPipeline(adapter, rt.Service(), rt.Detector())
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		subscriptions.Unsubscribe()
		return nil, err
	}
	return subscriptions, nil
}
