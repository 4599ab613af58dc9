// Package cmd provides the CLI commands for tendocs.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendocs/tendocs/pkg/version"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	dataDir    string
	logLevel   string
}

// NewRootCmd creates the root command for the tendocs CLI.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "tendocs",
		Short: "Multi-tenant document ingestion and hybrid retrieval",
		Long: `tendocs ingests documents through a staged pipeline (extract,
chunk, vectorize) and serves hybrid vector + keyword search over the
result, partitioned per tenant.

Run 'tendocs serve' to start the pipeline, then 'tendocs ingest' and
'tendocs query' against the same data directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Optional .env for credentials (OpenAI key, MinIO secrets).
			_ = godotenv.Load()
		},
	}

	cmd.SetVersionTemplate("tendocs version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to tendocs.yaml")
	cmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Data directory (default ~/.tendocs)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newIngestCmd(flags))
	cmd.AddCommand(newDeleteCmd(flags))
	cmd.AddCommand(newQueryCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
