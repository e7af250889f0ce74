package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/accountable/accountable-backend/internal/analytics/query"
	analyticstypes "github.com/accountable/accountable-backend/internal/analytics/types"
	"github.com/accountable/accountable-backend/pkg/bigquery"
	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/outbox"
)

// newOpsCommand groups operator commands. They read the server configuration
// and talk to the backing stores directly instead of the API.
func newOpsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Operator tools that read the server's stores directly",
	}
	cmd.AddCommand(newFunnelCommand(a), newDLQCommand(a))
	return cmd
}

type funnelReport struct {
	*analyticstypes.FunnelResponse
	ConversionRate float64 `json:"conversion_rate"`
}

func newFunnelCommand(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "funnel",
		Short: "Partnership funnel counts from the analytics warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, end, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, a.logg)
			if err != nil {
				return err
			}
			defer func() {
				if err := bq.Close(); err != nil {
					a.logg.Error(ctx, "close bigquery client", err)
				}
			}()

			svc, err := query.NewFunnelService(bq, cfg.GCP.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.PartnershipEventsTable, cfg.BigQuery.EngagementEventsTable)
			if err != nil {
				return err
			}
			funnel, err := svc.Funnel(ctx, analyticstypes.FunnelRequest{Start: start, End: end})
			if err != nil {
				return err
			}
			return a.printJSON(funnelReport{FunnelResponse: funnel, ConversionRate: funnel.ConversionRate()})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start ("+dateLayout+"), default 30 days ago")
	cmd.Flags().StringVar(&to, "to", "", "window end ("+dateLayout+"), default now")
	return cmd
}

func parseWindow(from, to string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if to != "" {
		parsed, err := time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to must look like %s", dateLayout)
		}
		end = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	start := end.AddDate(0, 0, -30)
	if from != "" {
		parsed, err := time.Parse(dateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from must look like %s", dateLayout)
		}
		start = parsed
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	return start, end, nil
}

func newDLQCommand(a *app) *cobra.Command {
	var (
		limit  int
		reason string
	)
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List outbox events that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := outbox.DLQListParams{Limit: limit}
			if reason != "" {
				parsed, err := enums.ParseOutboxDLQErrorReason(reason)
				if err != nil {
					return err
				}
				params.Reason = parsed
			}
			return a.withDLQ(cmd, func(ctx context.Context, repo *outbox.DLQRepository) error {
				rows, err := repo.List(ctx, params)
				if err != nil {
					return err
				}
				return a.printJSON(rows)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&reason, "reason", "", "only max_attempts or non_retryable entries")

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Hand a dead-lettered event back to the outbox publisher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withDLQ(cmd, func(ctx context.Context, repo *outbox.DLQRepository) error {
				event, err := repo.Requeue(ctx, id)
				if err != nil {
					return err
				}
				a.logg.Info(a.logg.WithField(ctx, "event_id", id.String()), "outbox.requeued")
				return a.printJSON(event)
			})
		},
	})
	return cmd
}

func (a *app) withDLQ(cmd *cobra.Command, fn func(context.Context, *outbox.DLQRepository) error) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dbClient, err := db.New(ctx, cfg.DB, a.logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			a.logg.Error(ctx, "close database", err)
		}
	}()
	return fn(ctx, outbox.NewDLQRepository(dbClient.DB()))
}
