package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const searchConsoleBaseURL = "https://www.googleapis.com/webmasters/v3"

var _ Adapter = &SearchConsoleAdapter{}

// SearchConsoleAdapter reads query/page performance from the Search Console
// searchAnalytics API. The selector is the site URL, e.g. "sc-domain:example.com".
type SearchConsoleAdapter struct {
	BaseURL  string
	RowLimit int
	caller   jsonCaller
}

func NewSearchConsoleAdapter(client *http.Client, timeout time.Duration) *SearchConsoleAdapter {
	return &SearchConsoleAdapter{
		BaseURL:  searchConsoleBaseURL,
		RowLimit: 250,
		caller:   newJSONCaller(client, timeout),
	}
}

func (a *SearchConsoleAdapter) Kind() ProviderKind { return SearchConsole }

// SearchRow is one query/page pair.
type SearchRow struct {
	Query       string  `json:"query"`
	Page        string  `json:"page"`
	Clicks      float64 `json:"clicks"`
	Impressions float64 `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// SearchPerformance is the Search Console payload.
type SearchPerformance struct {
	Site        string      `json:"site"`
	StartDate   string      `json:"start_date"`
	EndDate     string      `json:"end_date"`
	Rows        []SearchRow `json:"rows"`
	Clicks      float64     `json:"clicks"`
	Impressions float64     `json:"impressions"`
}

func (*SearchPerformance) Provider() ProviderKind { return SearchConsole }

type searchAnalyticsRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions"`
	RowLimit   int      `json:"rowLimit"`
}

type searchAnalyticsResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

func (a *SearchConsoleAdapter) Call(ctx context.Context, token string, r DateRange, site string) (Data, *RawFailure) {
	endpoint := a.BaseURL + "/sites/" + url.PathEscape(site) + "/searchAnalytics/query"
	var resp searchAnalyticsResponse
	failure := a.caller.do(ctx, http.MethodPost, endpoint, token, searchAnalyticsRequest{
		StartDate:  r.StartDate(),
		EndDate:    r.EndDate(),
		Dimensions: []string{"query", "page"},
		RowLimit:   a.RowLimit,
	}, &resp)
	if failure != nil {
		return nil, failure
	}

	out := &SearchPerformance{
		Site:      site,
		StartDate: r.StartDate(),
		EndDate:   r.EndDate(),
		Rows:      make([]SearchRow, 0, len(resp.Rows)),
	}
	for _, row := range resp.Rows {
		sr := SearchRow{
			Clicks:      row.Clicks,
			Impressions: row.Impressions,
			CTR:         row.CTR,
			Position:    row.Position,
		}
		if len(row.Keys) > 0 {
			sr.Query = row.Keys[0]
		}
		if len(row.Keys) > 1 {
			sr.Page = row.Keys[1]
		}
		out.Clicks += row.Clicks
		out.Impressions += row.Impressions
		out.Rows = append(out.Rows, sr)
	}
	return out, nil
}
