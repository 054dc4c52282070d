package main

import (
	"fmt"

	"github.com/fyrsmithlabs/corpora/internal/ingest"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		collection string
		policy     string
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest files or directories into a collection",
		Long: `Read every supported file under the given paths and write the documents
into a collection, creating it if needed.

Policies:
  replace  discard the collection's content first
  append   add every document
  merge    add only documents not already represented (default)

Examples:
  corpora ingest ./reports --collection wells
  corpora ingest units.psv notes.md --collection strat --policy replace --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ingest.ParsePolicy(policy)
			if err != nil && policy != "" {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Ingest().Ingest(cmd.Context(), ingest.Request{
				Collection: collection,
				Policy:     p,
				Paths:      args,
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return printIngestResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "target collection name (required)")
	cmd.Flags().StringVarP(&policy, "policy", "p", "", "replace, append or merge (default from ingest.default_policy)")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}
