package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/imagegen-bridge/internal/app"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect bridge configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration from the environment and overlay file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			summary := map[string]interface{}{
				"upstream":        cfg.Upstream.BaseURL,
				"port":            cfg.ServerPort,
				"pollMaxAttempts": cfg.PollMaxAttempts,
				"pollInterval":    cfg.PollInterval.String(),
				"materialize":     cfg.Materialize,
				"artifact":        cfg.ArtifactName,
				"bucket":          cfg.ArtifactBucket,
				"datastore":       cfg.DataStoreDriver,
				"redis":           cfg.RedisAddr != "",
				"missing":         cfg.MissingCredentials(),
			}
			if outputFormat == "json" {
				if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
			} else {
				tw := newTable(cmd.OutOrStdout())
				for _, key := range []string{"upstream", "port", "pollMaxAttempts", "pollInterval", "materialize", "artifact", "bucket", "datastore", "redis"} {
					fmt.Fprintf(tw, "%s\t%v\n", key, summary[key])
				}
				flushTable(tw)
				if missing := cfg.MissingCredentials(); len(missing) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "missing\t%s\n", strings.Join(missing, ", "))
				}
			}
			return cfg.Validate()
		},
	})
	return cmd
}
