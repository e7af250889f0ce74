package main

import (
	"github.com/spf13/cobra"
)

// newWatchCommand streams change notifications until interrupted.
func newWatchCommand(a *app) *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live changes to your partnerships, goals and messages",
		Example: `  accountable watch
  accountable watch --table messages --table check_ins`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			changes, err := a.client.Changes().Subscribe(ctx, tables...)
			if err != nil {
				return err
			}
			for change := range changes {
				if err := a.printJSON(change); err != nil {
					return err
				}
			}
			// A closed feed without cancellation means the server went away.
			if ctx.Err() == nil {
				a.logg.Warn(ctx, "change feed closed by server")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tables, "table", nil, "only changes to these tables")
	return cmd
}
