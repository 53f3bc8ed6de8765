package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile backend accounts and associations with the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sync, cleanup, err := a.syncService()
			if err != nil {
				return err
			}
			defer cleanup()

			reply, err := sync.Sync(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if reply.Skipped {
				_, _ = fmt.Fprintln(out, "no allocations, nothing to synchronize")
				return nil
			}
			_, _ = fmt.Fprintf(out, "created: %s\n", joinOrNone(reply.Created))
			_, _ = fmt.Fprintf(out, "deleted: %s\n", joinOrNone(reply.Deleted))
			_, _ = fmt.Fprintf(out, "associations: +%d -%d\n", reply.AssociationsCreated, reply.AssociationsDeleted)
			return nil
		},
	}
}

func newSyncUsageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-usage",
		Short: "Pull usage of all allocations into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sync, cleanup, err := a.syncService()
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := sync.SyncUsage(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "usage synchronized")
			return nil
		},
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
