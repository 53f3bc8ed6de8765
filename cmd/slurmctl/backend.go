package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"slurm-service/internal/batch"

	"github.com/spf13/cobra"
)

func newAccountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			accounts, err := client.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ACCOUNT\tDESCRIPTION\tORGANIZATION")
			for _, account := range accounts {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", account.Name, account.Description, account.Organization)
			}
			return w.Flush()
		},
	}
}

func newAssociationsCmd(a *app) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "associations",
		Short: "List user associations on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			associations, err := client.ListAssociations(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ACCOUNT\tUSER\tVALUE")
			for _, association := range associations {
				if account != "" && association.Account != account {
					continue
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", association.Account, association.User, association.Value)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "only show associations of this account")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report <account>...",
		Short: "Show current month usage of accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			report, err := client.GetUsageReport(cmd.Context(), args)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ACCOUNT\tUSER\tUSAGE")
			for _, account := range sortedNames(report) {
				users := report[account]
				for _, user := range sortedNames(users) {
					if user == batch.TotalAccountUsage {
						continue
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", account, user, users[user])
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", account, "(total)", users[batch.TotalAccountUsage])
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
