package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderKind selects one of the three data providers.
type ProviderKind string

const (
	SearchConsole ProviderKind = "search_console"
	Analytics     ProviderKind = "analytics"
	PageSpeed     ProviderKind = "pagespeed"
)

var (
	ErrUnknownProvider   = errors.New("unknown provider kind")
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrSelectorRequired  = errors.New("resource selector required")
	errUnexpectedPayload = errors.New("unexpected provider payload")
)

// ParseKind accepts the provider names used in routes and config.
func ParseKind(s string) (ProviderKind, error) {
	switch k := ProviderKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SearchConsole, Analytics, PageSpeed:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidDateRange)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidDateRange, r.EndDate(), r.StartDate())
	}
	return nil
}

func (r DateRange) StartDate() string { return r.Start.Format(dateLayout) }
func (r DateRange) EndDate() string   { return r.End.Format(dateLayout) }

// ParseDateRange parses YYYY-MM-DD bounds.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start: %v", ErrInvalidDateRange, err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end: %v", ErrInvalidDateRange, err)
	}
	r := DateRange{Start: s, End: e}
	return r, r.Validate()
}

// Data is a successful provider payload.
type Data interface {
	Provider() ProviderKind
}

// Adapter calls one provider with an already valid access token.
type Adapter interface {
	Kind() ProviderKind
	Call(ctx context.Context, token string, r DateRange, selector string) (Data, *RawFailure)
}
