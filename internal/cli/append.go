package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-debouncer/adapters/gocommand"
	"github.com/goliatone/go-debouncer/command"
)

// AppendCmd ingests one message into a conversation buffer.
func AppendCmd(opts *Options) *cobra.Command {
	var (
		user    string
		message string
		ttl     int
		meta    []string
	)

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a message to a conversation buffer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			msg := command.AppendMessageMessage{
				ConversationID: user,
				Message:        message,
				Metadata:       metadata,
			}
			if cmd.Flags().Changed("ttl") {
				msg.TTLSeconds = &ttl
			}

			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			buffer, err := gocommand.AppendMessage(cmd.Context(), msg)
			if err != nil {
				return err
			}
			printf(opts.Out, "%s buffered %d message(s), expires %s\n",
				buffer.ConversationID, len(buffer.Messages), buffer.ExpiresAt.Format("15:04:05"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "conversation id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "debounce window in seconds (default from config)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata as key=value, repeatable")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// FinalizeCmd queues a conversation whose window has elapsed without waiting
// for the next detector sweep.
func FinalizeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <conversation-id>",
		Short: "Finalize a conversation buffer immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := gocommand.FinalizeConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !result.Finalized {
				printf(opts.Out, "%s has no expired buffer, nothing to finalize\n", args[0])
				return nil
			}
			printf(opts.Out, "%s finalized, batch queued for delivery\n", args[0])
			return nil
		},
	}
}

func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
