package cli

import (
	"encoding/json"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-debouncer/adapters/gocommand"
	"github.com/goliatone/go-debouncer/core"
)

// HistoryCmd prints the live audit trail of a conversation, newest first.
func HistoryCmd(opts *Options) *cobra.Command {
	var (
		limit       int
		showPayload bool
	)

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show delivery audit records for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := gocommand.AuditHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				printf(opts.Out, "No audit records for %s\n", args[0])
				return nil
			}
			for _, record := range records {
				printf(opts.Out, "%s  attempt %d  %s",
					record.RecordedAt.Format(time.RFC3339), record.Attempt, statusLabel(record.Status))
				if code, ok := record.Response["status_code"]; ok {
					printf(opts.Out, "  http %v", code)
				}
				if reason, ok := record.Response["error"]; ok && reason != "" {
					printf(opts.Out, "  %v", reason)
				}
				printf(opts.Out, "\n")
				if showPayload {
					encoded, err := json.MarshalIndent(record.Payload, "    ", "  ")
					if err != nil {
						return err
					}
					printf(opts.Out, "    %s\n", encoded)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to show (0 for all)")
	cmd.Flags().BoolVar(&showPayload, "payload", false, "print the delivered payload")
	return cmd
}

func statusLabel(status string) string {
	switch status {
	case core.AuditStatusSuccess:
		return color.New(color.FgGreen).Sprintf("%-9s", status)
	case core.AuditStatusError:
		return color.New(color.FgYellow).Sprintf("%-9s", status)
	case core.AuditStatusDiscarded:
		return color.New(color.FgRed).Sprintf("%-9s", status)
	default:
		return color.New(color.FgBlue).Sprintf("%-9s", status)
	}
}
