package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newQueryCmd creates the query command.
func newQueryCmd(flags *rootFlags) *cobra.Command {
	var tenant string
	var topK int
	var alpha float64
	var format string

	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Search ingested documents",
		Long: `Run a hybrid vector + keyword search over the tenant's index and
print the reranked results with their page-expanded context.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}

			a, err := buildApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if topK <= 0 {
				topK = a.cfg.Retrieval.TopK
			}
			if alpha < 0 {
				alpha = a.cfg.Retrieval.Alpha
			}

			query := strings.Join(args, " ")
			results, err := a.retriever.Retrieve(cmd.Context(), tenant, query, topK, alpha)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (score: %.3f, pages: %s)\n",
					r.Rank, r.Filename, r.Score, formatPages(r.Pages))
				fmt.Fprintln(cmd.OutOrStdout(), indent(r.Text, "   "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "default", "Tenant to search")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().Float64Var(&alpha, "alpha", -1, "Vector weight in [0,1] (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")

	return cmd
}

func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "-"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ",")
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
