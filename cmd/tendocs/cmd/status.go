package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd(flags *rootFlags) *cobra.Command {
	var tenant string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <filename>",
		Short: "Show a document's pipeline state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.coord.Status(cmd.Context(), tenant, args[0])
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "filename:  %s\n", doc.Filename)
			fmt.Fprintf(out, "tenant:    %s\n", doc.TenantID)
			fmt.Fprintf(out, "file_id:   %s\n", doc.FileID)
			fmt.Fprintf(out, "stage:     %s\n", doc.Stage)
			fmt.Fprintf(out, "pending:   %t\n", doc.Pending)
			fmt.Fprintf(out, "failed:    %t\n", doc.Failed)
			if doc.RetryCount > 0 {
				fmt.Fprintf(out, "retries:   %d\n", doc.RetryCount)
			}
			if doc.LastError != "" {
				fmt.Fprintf(out, "last_error: %s\n", doc.LastError)
			}
			if doc.DeleteRequested {
				fmt.Fprintf(out, "deletion:  %s (retries: %d)\n", doc.DeleteStatus, doc.DeleteRetryCount)
			}
			fmt.Fprintf(out, "updated:   %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "default", "Tenant the document belongs to")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
