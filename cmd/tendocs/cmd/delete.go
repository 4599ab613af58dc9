package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDeleteCmd creates the delete command.
func newDeleteCmd(flags *rootFlags) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "delete <filename>...",
		Short: "Request deletion of ingested documents",
		Long: `Mark documents for deletion. The pipeline removes them from the
document store and the search index on its next polls; deletion takes
priority over ingestion work.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, filename := range args {
				if err := a.coord.RequestDeletion(cmd.Context(), tenant, filename); err != nil {
					return fmt.Errorf("failed to request deletion of %s: %w", filename, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deletion requested for %s\n", filename)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "default", "Tenant the documents belong to")

	return cmd
}
