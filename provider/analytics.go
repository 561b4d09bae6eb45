package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const analyticsBaseURL = "https://analyticsdata.googleapis.com/v1beta"

var _ Adapter = &AnalyticsAdapter{}

// AnalyticsAdapter runs a GA4 Data API report. The selector is the property,
// either "properties/123" or "123".
type AnalyticsAdapter struct {
	BaseURL string
	caller  jsonCaller
}

func NewAnalyticsAdapter(client *http.Client, timeout time.Duration) *AnalyticsAdapter {
	return &AnalyticsAdapter{BaseURL: analyticsBaseURL, caller: newJSONCaller(client, timeout)}
}

func (a *AnalyticsAdapter) Kind() ProviderKind { return Analytics }

// TrafficMetrics is the analytics payload.
type TrafficMetrics struct {
	Property           string  `json:"property"`
	StartDate          string  `json:"start_date"`
	EndDate            string  `json:"end_date"`
	Sessions           float64 `json:"sessions"`
	Users              float64 `json:"users"`
	NewUsers           float64 `json:"new_users"`
	PageViews          float64 `json:"page_views"`
	EngagementRate     float64 `json:"engagement_rate"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	BounceRate         float64 `json:"bounce_rate"`
}

func (*TrafficMetrics) Provider() ProviderKind { return Analytics }

// order matters: response metric values come back in request order
var analyticsMetrics = []string{
	"sessions",
	"totalUsers",
	"newUsers",
	"screenPageViews",
	"engagementRate",
	"averageSessionDuration",
	"bounceRate",
}

type runReportRequest struct {
	DateRanges []reportDateRange `json:"dateRanges"`
	Metrics    []reportMetric    `json:"metrics"`
}

type reportDateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type reportMetric struct {
	Name string `json:"name"`
}

type runReportResponse struct {
	Rows []struct {
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
}

func normalizeProperty(selector string) string {
	selector = strings.TrimSpace(selector)
	if strings.HasPrefix(selector, "properties/") {
		return selector
	}
	return "properties/" + selector
}

func (a *AnalyticsAdapter) Call(ctx context.Context, token string, r DateRange, selector string) (Data, *RawFailure) {
	property := normalizeProperty(selector)
	req := runReportRequest{
		DateRanges: []reportDateRange{{StartDate: r.StartDate(), EndDate: r.EndDate()}},
	}
	for _, m := range analyticsMetrics {
		req.Metrics = append(req.Metrics, reportMetric{Name: m})
	}
	var resp runReportResponse
	if failure := a.caller.do(ctx, http.MethodPost, a.BaseURL+"/"+property+":runReport", token, req, &resp); failure != nil {
		return nil, failure
	}

	out := &TrafficMetrics{Property: property, StartDate: r.StartDate(), EndDate: r.EndDate()}
	if len(resp.Rows) == 0 {
		// no traffic in range
		return out, nil
	}
	values := resp.Rows[0].MetricValues
	if len(values) != len(analyticsMetrics) {
		return nil, &RawFailure{Err: fmt.Errorf("%w: %d metric values", errUnexpectedPayload, len(values))}
	}
	dst := []*float64{
		&out.Sessions,
		&out.Users,
		&out.NewUsers,
		&out.PageViews,
		&out.EngagementRate,
		&out.AvgSessionDuration,
		&out.BounceRate,
	}
	for i, v := range values {
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil, &RawFailure{Err: fmt.Errorf("%w: %s: %v", errUnexpectedPayload, analyticsMetrics[i], err)}
		}
		*dst[i] = f
	}
	return out, nil
}
