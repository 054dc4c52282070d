package main

import (
	"fmt"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/spf13/cobra"
)

func newCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"collection", "col"},
		Short:   "Manage collections and the active set",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List collections with vector counts",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				list, err := a.Collections().List(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				return printCollections(cmd.OutOrStdout(), list)
			}),
		},
		&cobra.Command{
			Use:   "get <name>",
			Short: "Show one collection",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				c, err := a.Collections().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printOne(cmd, *c)
			}),
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create an empty, enabled collection",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				c, err := a.Collections().Create(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printOne(cmd, *c)
			}),
		},
		toggleCmd("enable", "Add a collection to the active set", true),
		toggleCmd("disable", "Remove a collection from the active set", false),
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a collection and its vectors",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				existed, err := a.Collections().Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !existed {
					return fmt.Errorf("%w: %s", collections.ErrCollectionNotFound, args[0])
				}
				cmd.Printf("deleted %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Register backend collections missing from the registry",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				adopted, err := a.Collections().Sync(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string][]string{"adopted": adopted})
				}
				if len(adopted) == 0 {
					cmd.Println("registry already in sync")
					return nil
				}
				for _, name := range adopted {
					cmd.Printf("adopted %s\n", name)
				}
				return nil
			}),
		},
	)
	return cmd
}

func toggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.Collections().SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			cmd.Printf("%sd %s\n", use, args[0])
			return nil
		}),
	}
}

func printOne(cmd *cobra.Command, c collections.Collection) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), c)
	}
	return printCollections(cmd.OutOrStdout(), []collections.Collection{c})
}

// withApp opens the services around a command body.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}
