package types

import "time"

// FunnelRequest bounds a partnership funnel query.
type FunnelRequest struct {
	Start time.Time
	End   time.Time
}

// TimeSeriesPoint describes a single date/value pair returned by the query service.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// FunnelResponse counts lifecycle transitions and engagement activity over a window.
type FunnelResponse struct {
	Requested   int64             `json:"requested"`
	Accepted    int64             `json:"accepted"`
	Declined    int64             `json:"declined"`
	Finalized   int64             `json:"finalized"`
	TrialEnded  int64             `json:"trial_ended"`
	Terminated  int64             `json:"terminated"`
	Invitations int64             `json:"invitations"`
	Conversions int64             `json:"conversions"`
	Engagement  []TimeSeriesPoint `json:"engagement"`
}

// ConversionRate is finalized partnerships over accepted trials.
func (f FunnelResponse) ConversionRate() float64 {
	if f.Accepted == 0 {
		return 0
	}
	return float64(f.Finalized) / float64(f.Accepted)
}
