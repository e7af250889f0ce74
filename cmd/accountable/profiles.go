package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newProfilesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Find other members",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "search <email-fragment>...",
		Short:   "Search members by part of their email",
		Example: "  accountable profiles search grace",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(a, a.client.Profiles().Search(cmd.Context(), strings.Join(args, " ")))
		},
	})
	return cmd
}
