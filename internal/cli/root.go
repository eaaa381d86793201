// Package cli implements the imagegen command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/imagegen-bridge/internal/app"
)

var (
	outputFormat string
	serverURL    string
)

// Execute runs the CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := NewRootCommand()
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "imagegen",
		Short: "Generate images through the upstream bridge",
		Long: `imagegen turns a text prompt into image URLs. It can run a generation
in-process, talk to a running bridge with --server, or start the bridge itself.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch outputFormat {
			case "text", "json":
				return nil
			default:
				return fmt.Errorf("unsupported output format %q (text|json)", outputFormat)
			}
		},
	}
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text|json")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "Bridge URL; when set, commands call the running bridge")

	root.AddCommand(newGenerateCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newConfigCmd())
	return root
}
