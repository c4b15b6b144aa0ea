package cli

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-debouncer/adapters/gocommand"
)

// QueuesCmd lists conversations with buffered messages, queued batches or a
// pending retry.
func QueuesCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show buffered and queued conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			statuses, err := gocommand.QueueStatus(cmd.Context())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				printf(opts.Out, "No active conversations\n")
				return nil
			}
			header := color.New(color.Bold)
			printf(opts.Out, "%s\n", header.Sprintf("%-24s %8s %8s %10s  %s", "CONVERSATION", "BUFFERED", "QUEUED", "TTL", "RETRY"))
			for _, status := range statuses {
				ttl := "-"
				if status.Buffered > 0 {
					ttl = status.TTLRemaining.Round(time.Second).String()
				}
				retry := "-"
				if status.RetryDueAt != nil {
					retry = color.New(color.FgYellow).Sprint(status.RetryDueAt.Format(time.RFC3339))
				}
				printf(opts.Out, "%-24s %8d %8d %10s  %s\n",
					status.ConversationID, status.Buffered, status.Depth, ttl, retry)
			}
			return nil
		},
	}
}
