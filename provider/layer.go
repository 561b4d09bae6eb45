package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Seann-Moser/linkguard/oauth/oclient"
	"github.com/prometheus/client_golang/prometheus"
)

// LinkReader loads stored links. It is used to default an empty selector to
// the first resource the tenant selected.
type LinkReader interface {
	GetLink(ctx context.Context, accountID string) (*oclient.AccountLink, error)
}

// Adapters is the closed set of provider adapters.
type Adapters struct {
	SearchConsole *SearchConsoleAdapter
	Analytics     *AnalyticsAdapter
	PageSpeed     *PageSpeedAdapter
}

// Layer fetches provider data on behalf of an account.
type Layer struct {
	tokens   oclient.TokenSource
	adapters Adapters
	links    LinkReader
	log      *slog.Logger
	fetches  *prometheus.CounterVec
}

type LayerOption func(*Layer)

func WithLinkReader(r LinkReader) LayerOption {
	return func(l *Layer) { l.links = r }
}

func WithLayerLogger(log *slog.Logger) LayerOption {
	return func(l *Layer) {
		if log != nil {
			l.log = log
		}
	}
}

// WithFetchCounter counts fetches by provider and outcome.
func WithFetchCounter(c *prometheus.CounterVec) LayerOption {
	return func(l *Layer) { l.fetches = c }
}

// NewFetchCounter builds the counter used by WithFetchCounter.
func NewFetchCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkguard_provider_fetches_total",
		Help: "Provider fetches by provider and outcome",
	}, []string{"provider", "outcome"})
}

func NewLayer(tokens oclient.TokenSource, adapters Adapters, opts ...LayerOption) *Layer {
	l := &Layer{
		tokens:   tokens,
		adapters: adapters,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch obtains a valid token for accountID and calls the provider.
//
// A missing connection returns *NotConnectedError. Every other failure is a
// classified *Error; a failed refresh is Unauthorized with NeedsReauth set.
func (l *Layer) Fetch(ctx context.Context, kind ProviderKind, accountID string, r DateRange, selector string) (Data, error) {
	adapter, err := l.adapter(kind)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	token, err := l.tokens.GetValidAccessToken(ctx, accountID)
	if err != nil {
		perr := l.tokenFailure(ctx, kind, accountID, err)
		l.count(kind, perr)
		return nil, perr
	}

	if selector == "" {
		selector, err = l.defaultSelector(ctx, accountID)
		if err != nil {
			l.count(kind, err)
			return nil, err
		}
	}

	data, raw := adapter.Call(ctx, token, r, selector)
	if raw != nil {
		perr := Classify(raw)
		perr.Provider = kind
		l.log.Warn("provider call failed",
			"provider", kind,
			"account_id", accountID,
			"kind", perr.Kind,
			"status", perr.Status,
			"retryable", perr.Retryable,
			"needs_reauth", perr.NeedsReauth,
		)
		l.count(kind, perr)
		return nil, perr
	}
	l.log.Debug("provider call succeeded", "provider", kind, "account_id", accountID)
	l.count(kind, nil)
	return data, nil
}

func (l *Layer) adapter(kind ProviderKind) (Adapter, error) {
	var a Adapter
	switch kind {
	case SearchConsole:
		if l.adapters.SearchConsole != nil {
			a = l.adapters.SearchConsole
		}
	case Analytics:
		if l.adapters.Analytics != nil {
			a = l.adapters.Analytics
		}
	case PageSpeed:
		if l.adapters.PageSpeed != nil {
			a = l.adapters.PageSpeed
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s adapter not configured", ErrUnknownProvider, kind)
	}
	return a, nil
}

func (l *Layer) tokenFailure(ctx context.Context, kind ProviderKind, accountID string, err error) error {
	switch {
	case oclient.IsNotConnected(err):
		return &NotConnectedError{Provider: kind, AccountID: accountID}
	case ctx.Err() != nil:
		perr := ClassifyErr(ctx.Err())
		perr.Provider = kind
		return perr
	case oclient.IsRefreshFailed(err):
		l.log.Warn("token refresh failed", "provider", kind, "account_id", accountID, "error", err)
		return &Error{
			Kind:        Unauthorized,
			NeedsReauth: true,
			Message:     "access token could not be refreshed, reconnect the account",
			Provider:    kind,
			cause:       err,
		}
	default:
		l.log.Error("token store failed", "provider", kind, "account_id", accountID, "error", err)
		return &Error{
			Kind:      ServiceUnavailable,
			Retryable: true,
			Message:   "credential store unavailable",
			Provider:  kind,
			cause:     err,
		}
	}
}

func (l *Layer) defaultSelector(ctx context.Context, accountID string) (string, error) {
	if l.links == nil {
		return "", ErrSelectorRequired
	}
	link, err := l.links.GetLink(ctx, accountID)
	if err != nil {
		if errors.Is(err, oclient.ErrLinkNotFound) {
			return "", ErrSelectorRequired
		}
		return "", fmt.Errorf("load link: %w", err)
	}
	if len(link.SelectedResources) == 0 {
		return "", ErrSelectorRequired
	}
	return link.SelectedResources[0], nil
}

func (l *Layer) count(kind ProviderKind, err error) {
	if l.fetches == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		var pe *Error
		var nc *NotConnectedError
		switch {
		case errors.As(err, &pe):
			outcome = string(pe.Kind)
		case errors.As(err, &nc):
			outcome = "not_connected"
		default:
			outcome = "error"
		}
	}
	l.fetches.WithLabelValues(string(kind), outcome).Inc()
}
