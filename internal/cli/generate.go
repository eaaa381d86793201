package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/imagegen-bridge/internal/app"
	"github.com/oremus-labs/imagegen-bridge/internal/generation"
)

func newGenerateCmd() *cobra.Command {
	var (
		materialize bool
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate an image and print its URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var want *bool
			if cmd.Flags().Changed("materialize") {
				want = &materialize
			}

			var (
				resp *generation.Response
				err  error
			)
			if serverURL != "" {
				resp, err = newClient(serverURL).Generate(ctx, prompt, want)
			} else {
				resp, err = generateLocal(ctx, prompt, want)
			}
			if err != nil {
				return err
			}
			return writeResponse(cmd, resp)
		},
	}
	cmd.Flags().BoolVar(&materialize, "materialize", false, "Download and store the primary image")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall deadline for the generation (0 disables)")
	return cmd
}

func generateLocal(ctx context.Context, prompt string, materialize *bool) (*generation.Response, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Service.Generate(ctx, generation.Request{Prompt: prompt, Materialize: materialize})
}

func writeResponse(cmd *cobra.Command, resp *generation.Response) error {
	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Source: %s\n", resp.Source)
	for i, u := range resp.URLs {
		marker := " "
		if u == resp.URL {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %d. %s\n", marker, i+1, u)
	}
	if resp.Artifact != nil {
		fmt.Fprintf(out, "Artifact: %s (%d bytes, normalized=%t)\n", resp.Artifact.Ref, resp.Artifact.Size, resp.Artifact.Normalized)
	}
	if resp.ArtifactError != "" {
		fmt.Fprintf(out, "Artifact error: %s\n", resp.ArtifactError)
	}
	return nil
}
