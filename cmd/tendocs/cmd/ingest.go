package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newIngestCmd creates the ingest command.
func newIngestCmd(flags *rootFlags) *cobra.Command {
	var tenant string
	var name string

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Enqueue documents for ingestion",
		Long: `Store each file in the document store and register it for pipeline
processing. A running 'tendocs serve' picks it up on the next poll.

Re-ingesting an existing filename replaces the stored document and restarts
its pipeline from the beginning.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 1 {
				return fmt.Errorf("--name only applies to a single file")
			}

			a, err := buildApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}

				filename := name
				if filename == "" {
					filename = filepath.Base(path)
				}
				fileID, err := a.coord.Enqueue(cmd.Context(), tenant, filename, f)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("failed to enqueue %s: %w", filename, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (file_id: %s)\n", filename, fileID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "default", "Tenant the documents belong to")
	cmd.Flags().StringVar(&name, "name", "", "Store under this filename instead of the file's base name")

	return cmd
}
