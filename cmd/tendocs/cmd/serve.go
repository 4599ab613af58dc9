package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newServeCmd creates the serve command.
func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline",
		Long: `Start the polling coordinator and process pending documents until
interrupted. Only one coordinator may run per data directory; a second
instance fails fast on the lock file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.coord.Start(ctx); err != nil {
				return fmt.Errorf("failed to start coordinator: %w", err)
			}
			a.logger.Info("pipeline_started",
				"data_dir", a.cfg.DataDir,
				"workers", a.cfg.Pipeline.Workers,
				"poll_interval", a.cfg.Pipeline.PollInterval.String())

			<-ctx.Done()

			a.logger.Info("pipeline_stopping")
			a.coord.Stop()
			return nil
		},
	}
}
