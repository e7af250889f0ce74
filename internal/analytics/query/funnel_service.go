package query

import (
	"context"
	"fmt"

	cloudbigquery "cloud.google.com/go/bigquery"
	"github.com/accountable/accountable-backend/internal/analytics/types"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"google.golang.org/api/iterator"
)

const (
	lifecycleCountsSQL = `
SELECT event_type, COUNT(DISTINCT event_id) AS value
FROM %s
WHERE occurred_at BETWEEN @start AND @end
GROUP BY event_type
`

	engagementSeriesSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  COUNT(DISTINCT event_id) AS value
FROM %s
WHERE occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`
)

// Querier runs parameterized SQL against BigQuery.
type Querier interface {
	Query(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (*cloudbigquery.RowIterator, error)
}

// FunnelService reads partnership funnel KPIs back out of the analytics tables.
type FunnelService interface {
	Funnel(ctx context.Context, req types.FunnelRequest) (*types.FunnelResponse, error)
}

type funnelService struct {
	client         Querier
	partnershipRef string
	engagementRef  string
}

// NewFunnelService builds a service backed by BigQuery.
func NewFunnelService(client Querier, project, dataset, partnershipTable, engagementTable string) (FunnelService, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if project == "" || dataset == "" || partnershipTable == "" || engagementTable == "" {
		return nil, fmt.Errorf("project, dataset, and tables are required")
	}
	return &funnelService{
		client:         client,
		partnershipRef: tableRef(project, dataset, partnershipTable),
		engagementRef:  tableRef(project, dataset, engagementTable),
	}, nil
}

func tableRef(project, dataset, table string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

func (s *funnelService) Funnel(ctx context.Context, req types.FunnelRequest) (*types.FunnelResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	params := []cloudbigquery.QueryParameter{
		{Name: "start", Value: req.Start},
		{Name: "end", Value: req.End},
	}

	counts, err := s.queryCounts(ctx, fmt.Sprintf(lifecycleCountsSQL, s.partnershipRef), params)
	if err != nil {
		return nil, err
	}
	engagement, err := s.querySeries(ctx, fmt.Sprintf(engagementSeriesSQL, s.engagementRef), params)
	if err != nil {
		return nil, err
	}

	return &types.FunnelResponse{
		Requested:   counts["partnership_requested"],
		Accepted:    counts["partnership_accepted"],
		Declined:    counts["partnership_declined"],
		Finalized:   counts["partnership_finalized"],
		TrialEnded:  counts["partnership_trial_ended"],
		Terminated:  counts["partnership_terminated"],
		Invitations: counts["invitation_sent"],
		Conversions: counts["invitation_converted"],
		Engagement:  engagement,
	}, nil
}

func validateRequest(req types.FunnelRequest) error {
	if req.Start.IsZero() || req.End.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	}
	if req.End.Before(req.Start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	return nil
}

func (s *funnelService) queryCounts(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (map[string]int64, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle counts: %w", err)
	}

	counts := map[string]int64{}
	for {
		var row struct {
			EventType string `bigquery:"event_type"`
			Value     int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading lifecycle row: %w", err)
		}
		counts[row.EventType] = row.Value
	}
	return counts, nil
}

func (s *funnelService) querySeries(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.TimeSeriesPoint, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}

	var points []types.TimeSeriesPoint
	for {
		var row struct {
			Day   string `bigquery:"day"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading series row: %w", err)
		}
		points = append(points, types.TimeSeriesPoint{Date: row.Day, Value: row.Value})
	}
	return points, nil
}
