package provider

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"time"
)

const pageSpeedBaseURL = "https://www.googleapis.com/pagespeedonline/v5"

var _ Adapter = &PageSpeedAdapter{}

// PageSpeedAdapter runs a PageSpeed Insights performance audit of the page
// named by the selector. An audit is a point-in-time measurement, so the date
// range is not sent.
type PageSpeedAdapter struct {
	BaseURL  string
	Strategy string
	caller   jsonCaller
}

func NewPageSpeedAdapter(client *http.Client, timeout time.Duration) *PageSpeedAdapter {
	return &PageSpeedAdapter{
		BaseURL:  pageSpeedBaseURL,
		Strategy: "mobile",
		caller:   newJSONCaller(client, timeout),
	}
}

func (a *PageSpeedAdapter) Kind() ProviderKind { return PageSpeed }

// Opportunity is an audit with estimated savings.
type Opportunity struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	SavingsMs    float64 `json:"savings_ms"`
	DisplayValue string  `json:"display_value,omitempty"`
}

// PerformanceAudit is the PageSpeed payload. Scores are 0–100.
type PerformanceAudit struct {
	URL           string             `json:"url"`
	Strategy      string             `json:"strategy"`
	Score         float64            `json:"score"`
	Metrics       map[string]float64 `json:"metrics"`
	Opportunities []Opportunity      `json:"opportunities"`
}

func (*PerformanceAudit) Provider() ProviderKind { return PageSpeed }

var coreAudits = []string{
	"first-contentful-paint",
	"largest-contentful-paint",
	"total-blocking-time",
	"cumulative-layout-shift",
	"speed-index",
	"interactive",
}

type pageSpeedResponse struct {
	LighthouseResult struct {
		FinalURL   string `json:"finalUrl"`
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]struct {
			ID           string   `json:"id"`
			Title        string   `json:"title"`
			Score        *float64 `json:"score"`
			NumericValue float64  `json:"numericValue"`
			DisplayValue string   `json:"displayValue"`
			Details      struct {
				Type             string  `json:"type"`
				OverallSavingsMs float64 `json:"overallSavingsMs"`
			} `json:"details"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

func (a *PageSpeedAdapter) Call(ctx context.Context, token string, _ DateRange, pageURL string) (Data, *RawFailure) {
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("strategy", a.Strategy)
	q.Set("category", "performance")

	var resp pageSpeedResponse
	if failure := a.caller.do(ctx, http.MethodGet, a.BaseURL+"/runPagespeed?"+q.Encode(), token, nil, &resp); failure != nil {
		return nil, failure
	}

	lr := resp.LighthouseResult
	out := &PerformanceAudit{
		URL:      pageURL,
		Strategy: a.Strategy,
		Metrics:  make(map[string]float64, len(coreAudits)),
	}
	if lr.FinalURL != "" {
		out.URL = lr.FinalURL
	}
	if s := lr.Categories.Performance.Score; s != nil {
		out.Score = *s * 100
	}
	for _, id := range coreAudits {
		if audit, ok := lr.Audits[id]; ok {
			out.Metrics[id] = audit.NumericValue
		}
	}
	for id, audit := range lr.Audits {
		if audit.Details.Type != "opportunity" || audit.Details.OverallSavingsMs <= 0 {
			continue
		}
		out.Opportunities = append(out.Opportunities, Opportunity{
			ID:           id,
			Title:        audit.Title,
			SavingsMs:    audit.Details.OverallSavingsMs,
			DisplayValue: audit.DisplayValue,
		})
	}
	sort.Slice(out.Opportunities, func(i, j int) bool {
		if out.Opportunities[i].SavingsMs == out.Opportunities[j].SavingsMs {
			return out.Opportunities[i].ID < out.Opportunities[j].ID
		}
		return out.Opportunities[i].SavingsMs > out.Opportunities[j].SavingsMs
	})
	return out, nil
}
