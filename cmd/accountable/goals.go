package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/accountable/accountable-backend/internal/checkins"
	"github.com/accountable/accountable-backend/internal/gateway"
	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/progress"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

const dateLayout = "2006-01-02"

func newGoalsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Track goals, their progress and the check-ins around them",
	}
	cmd.AddCommand(
		newGoalsListCommand(a),
		newGoalsCreateCommand(a),
		newGoalsFinishCommand(a, "complete", "Mark a goal completed", gateway.Goals.Complete),
		newGoalsFinishCommand(a, "abandon", "Abandon a goal", gateway.Goals.Abandon),
		newProgressCommand(a),
		newCheckInsCommand(a),
	)
	return cmd
}

func newGoalsListCommand(a *app) *cobra.Command {
	var partnership, owner, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals in a partnership",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(partnership)
			if err != nil {
				return err
			}
			params := goals.ListParams{PartnershipID: id}
			if owner != "" {
				ownerID, err := parseID(owner)
				if err != nil {
					return err
				}
				params.OwnerID = &ownerID
			}
			if status != "" {
				parsed, err := enums.ParseGoalStatus(status)
				if err != nil {
					return err
				}
				params.Status = &parsed
			}
			return render(a, a.client.Goals().List(cmd.Context(), params))
		},
	}
	cmd.Flags().StringVar(&partnership, "partnership", "", "partnership id")
	cmd.Flags().StringVar(&owner, "owner", "", "only goals owned by this user")
	cmd.Flags().StringVar(&status, "status", "", "only goals in this status")
	_ = cmd.MarkFlagRequired("partnership")
	return cmd
}

func newGoalsCreateCommand(a *app) *cobra.Command {
	var partnership, title, description, target string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal in a partnership",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(partnership)
			if err != nil {
				return err
			}
			input := goals.CreateInput{PartnershipID: id, Title: title}
			if description != "" {
				input.Description = &description
			}
			if target != "" {
				date, err := time.Parse(dateLayout, target)
				if err != nil {
					return fmt.Errorf("target date must look like %s", dateLayout)
				}
				input.TargetDate = &date
			}
			return render(a, a.client.Goals().Create(cmd.Context(), input))
		},
	}
	cmd.Flags().StringVar(&partnership, "partnership", "", "partnership id")
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&description, "description", "", "longer description")
	cmd.Flags().StringVar(&target, "target", "", "target date ("+dateLayout+")")
	_ = cmd.MarkFlagRequired("partnership")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

type goalFinisher func(g gateway.Goals, ctx context.Context, id uuid.UUID) gateway.Result[*goals.GoalDTO]

func newGoalsFinishCommand(a *app, use, short string, finish goalFinisher) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return render(a, finish(a.client.Goals(), cmd.Context(), id))
		},
	}
}

func newProgressCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Log and read progress on a goal",
	}

	var limit int
	var cursor string
	list := &cobra.Command{
		Use:   "list <goal-id>",
		Short: "List progress updates, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			page := pagination.Params{Limit: limit, Cursor: cursor}
			return render(a, a.client.Progress().ListByGoal(cmd.Context(), id, page))
		},
	}
	list.Flags().IntVar(&limit, "limit", pagination.DefaultLimit, "page size")
	list.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")

	var description, value string
	add := &cobra.Command{
		Use:   "add <goal-id>",
		Short: "Log a progress update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			input := progress.CreateInput{GoalID: id, Description: description}
			if value != "" {
				v, err := decimal.NewFromString(value)
				if err != nil {
					return fmt.Errorf("invalid value %q", value)
				}
				input.Value = &v
			}
			return render(a, a.client.Progress().Create(cmd.Context(), input))
		},
	}
	add.Flags().StringVar(&description, "description", "", "what changed")
	add.Flags().StringVar(&value, "value", "", "optional numeric measure")
	_ = add.MarkFlagRequired("description")

	cmd.AddCommand(list, add)
	return cmd
}

func newCheckInsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkins",
		Aliases: []string{"ci"},
		Short:   "Schedule and review check-ins",
	}

	var partnership, window string
	list := &cobra.Command{
		Use:   "list",
		Short: "List check-ins in a partnership",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(partnership)
			if err != nil {
				return err
			}
			w := checkins.Window(window)
			if !w.IsValid() {
				return fmt.Errorf("window must be upcoming or past")
			}
			return render(a, a.client.CheckIns().List(cmd.Context(), checkins.ListParams{PartnershipID: id, Window: w}))
		},
	}
	list.Flags().StringVar(&partnership, "partnership", "", "partnership id")
	list.Flags().StringVar(&window, "window", "", "upcoming or past")
	_ = list.MarkFlagRequired("partnership")

	var at string
	var duration int
	var notes string
	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a check-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(partnership)
			if err != nil {
				return err
			}
			when, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("--at must be RFC 3339, e.g. 2026-05-01T18:00:00Z")
			}
			input := checkins.CreateInput{PartnershipID: id, ScheduledAt: when, DurationMinutes: duration}
			if notes != "" {
				input.Notes = &notes
			}
			return render(a, a.client.CheckIns().Create(cmd.Context(), input))
		},
	}
	schedule.Flags().StringVar(&partnership, "partnership", "", "partnership id")
	schedule.Flags().StringVar(&at, "at", "", "start time (RFC 3339)")
	schedule.Flags().IntVar(&duration, "minutes", 30, "duration in minutes")
	schedule.Flags().StringVar(&notes, "notes", "", "agenda or notes")
	_ = schedule.MarkFlagRequired("partnership")
	_ = schedule.MarkFlagRequired("at")

	cmd.AddCommand(list, schedule)
	return cmd
}
