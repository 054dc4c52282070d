package main

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/corpora/internal/query"
	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		collections []string
		topK        int
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the active collections",
		Long: `Search every active collection (or only those named with --collection),
keep the best passages overall and synthesize an answer from them.

Examples:
  corpora query "What overlies the Hutton Sandstone?"
  corpora query "Birkhead age" --collection wells --collection reports --top-k 8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			req := query.Request{Text: strings.Join(args, " "), TopK: topK}
			if cmd.Flags().Changed("collection") {
				req.Collections = collections
			}
			res, err := a.Query().Query(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return printQueryResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringArrayVarP(&collections, "collection", "c", nil, "collection to search (repeatable; default: active collections)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages to keep (default from query.top_k)")
	return cmd
}
