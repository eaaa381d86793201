package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow generation events from a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				return fmt.Errorf("--server is required")
			}
			client := newClient(serverURL)
			ctx := cmd.Context()
			for {
				err := client.StreamEvents(ctx, func(ev EventEnvelope) bool {
					if outputFormat == "json" {
						_ = printJSON(cmd.OutOrStdout(), ev)
						return true
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s %s\n",
						ev.Timestamp.Format(time.RFC3339), ev.Type, shortID(ev.RequestID), compact(ev.Data))
					return true
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					printErrorLine(cmd, "event stream interrupted: %v", err)
				}
				if !follow || ctx.Err() != nil {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", true, "Reconnect when the stream drops")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
