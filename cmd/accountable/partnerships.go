package main

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/pkg/enums"
)

func newPartnershipsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "partnerships",
		Aliases: []string{"p"},
		Short:   "List, request and move partnerships through their lifecycle",
	}
	cmd.AddCommand(
		newPartnershipsListCommand(a),
		newPartnershipsShowCommand(a),
		newPartnershipsCreateCommand(a),
		newPartnershipsStatusCommand(a),
	)
	for _, action := range []partnerships.Action{
		partnerships.ActionAccept,
		partnerships.ActionDecline,
		partnerships.ActionFinalize,
		partnerships.ActionEndTrial,
		partnerships.ActionTerminate,
	} {
		cmd.AddCommand(newPartnershipActionCommand(a, action))
	}
	return cmd
}

func newPartnershipsListCommand(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List partnerships you take part in",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *enums.PartnershipStatus
			if status != "" {
				parsed, err := enums.ParsePartnershipStatus(status)
				if err != nil {
					return err
				}
				filter = &parsed
			}
			return render(a, a.client.Partnerships().List(cmd.Context(), filter))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only partnerships in this status")
	return cmd
}

func newPartnershipsShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one partnership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return render(a, a.client.Partnerships().Get(cmd.Context(), id))
		},
	}
}

func newPartnershipsCreateCommand(a *app) *cobra.Command {
	var (
		input     partnerships.CreateInput
		inviteeID string
		message   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Request a partnership with a member, or invite someone by email",
		Example: `  accountable partnerships create --invitee-email sam@example.com --frequency weekly --days mon,thu
  accountable partnerships create --invitee-id 6c1d... --message "Shall we?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inviteeID != "" {
				id, err := parseID(inviteeID)
				if err != nil {
					return err
				}
				input.InviteeID = &id
			}
			if message != "" {
				input.Message = &message
			}
			return render(a, a.client.Partnerships().Create(cmd.Context(), input))
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&inviteeID, "invitee-id", "", "id of an existing member")
	flags.StringVar(&input.InviteeEmail, "invitee-email", "", "email to invite when they have no account yet")
	flags.StringVar(&message, "message", "", "note sent with the request")
	flags.StringVar(&input.Agreement.CommunicationFrequency, "frequency", "", "agreed communication frequency")
	flags.StringSliceVar(&input.Agreement.CheckInDays, "days", nil, "agreed check-in days")
	flags.StringVar(&input.Agreement.Expectations, "expectations", "", "what each partner expects")
	flags.StringVar(&input.Agreement.CommitmentLevel, "commitment", "", "agreed commitment level")
	flags.StringVar(&input.Agreement.FeedbackStyle, "feedback-style", "", "preferred feedback style")
	cmd.MarkFlagsOneRequired("invitee-id", "invitee-email")
	cmd.MarkFlagsMutuallyExclusive("invitee-id", "invitee-email")
	return cmd
}

func newPartnershipsStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a partnership to a target status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			status, err := enums.ParsePartnershipStatus(args[1])
			if err != nil {
				return err
			}
			return render(a, a.client.Partnerships().UpdateStatus(cmd.Context(), id, status))
		},
	}
}

func newPartnershipActionCommand(a *app, action partnerships.Action) *cobra.Command {
	name := strings.ReplaceAll(string(action), "_", "-")
	return &cobra.Command{
		Use:   name + " <id>",
		Short: "Apply the " + name + " transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return render(a, a.client.Partnerships().Transition(cmd.Context(), id, action))
		},
	}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, errors.New("invalid id: " + raw)
	}
	return id, nil
}
