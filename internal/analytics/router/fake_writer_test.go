package router

import (
	"context"

	pkgbigquery "github.com/accountable/accountable-backend/pkg/bigquery"
)

type fakeWriter struct {
	partnerships []pkgbigquery.PartnershipEventRow
	engagement   []pkgbigquery.EngagementEventRow
	err          error
}

func (f *fakeWriter) InsertPartnership(_ context.Context, row pkgbigquery.PartnershipEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.partnerships = append(f.partnerships, row)
	return nil
}

func (f *fakeWriter) InsertEngagement(_ context.Context, row pkgbigquery.EngagementEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.engagement = append(f.engagement, row)
	return nil
}
