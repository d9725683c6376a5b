package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/kafka"
	"github.com/spf13/cobra"
)

func newTailCommand(opts *rootOptions) *cobra.Command {
	var fromStart bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print change events exported to Kafka by a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd, nil)
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				return fmt.Errorf("kafka brokers and topic must be configured")
			}
			consumer := kafka.NewConsumer(cfg.Kafka, fromStart, printEvent(cmd.OutOrStdout()))
			return consumer.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Start from the oldest retained event when the group has no offset")
	return cmd
}

func printEvent(out io.Writer) kafka.MessageHandler {
	return func(_ context.Context, _, value []byte) error {
		event, err := kafka.DecodeJSON[watcher.ChangeEvent](value)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s %-6s %s\n", event.ObservedAt.Format(time.RFC3339), event.Kind, event.Path)
		return err
	}
}
