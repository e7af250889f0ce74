package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/accountable/accountable-backend/internal/messages"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

func newMessagesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"m"},
		Short:   "Read and send partnership messages",
	}

	var limit int
	var cursor string
	list := &cobra.Command{
		Use:   "list <partnership-id>",
		Short: "List messages, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			page := pagination.Params{Limit: limit, Cursor: cursor}
			return render(a, a.client.Messages().List(cmd.Context(), id, page))
		},
	}
	list.Flags().IntVar(&limit, "limit", pagination.DefaultLimit, "page size")
	list.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")

	send := &cobra.Command{
		Use:   "send <partnership-id> <text>...",
		Short: "Send a message to your partner",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			input := messages.SendInput{PartnershipID: id, Content: strings.Join(args[1:], " ")}
			return render(a, a.client.Messages().Send(cmd.Context(), input))
		},
	}

	readAll := &cobra.Command{
		Use:   "read-all <partnership-id>",
		Short: "Mark every incoming message in a partnership as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			updated, err := a.client.Messages().MarkAllRead(cmd.Context(), id).Unwrap()
			if err != nil {
				return err
			}
			return a.printJSON(map[string]int64{"updated": updated})
		},
	}

	unread := &cobra.Command{
		Use:   "unread",
		Short: "Count unread messages per partnership",
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(a, a.client.Messages().Unread(cmd.Context()))
		},
	}

	cmd.AddCommand(list, send, readAll, unread)
	return cmd
}
