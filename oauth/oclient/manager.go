package oclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultExchangeTimeout bounds a single refresh exchange.
const DefaultExchangeTimeout = 15 * time.Second

var _ TokenSource = &Manager{}

// Manager decides between reusing and refreshing access tokens. At most one
// refresh per account is in flight; concurrent callers share its result.
type Manager struct {
	store     Store
	exchanger Exchanger
	now       func() time.Time
	timeout   time.Duration
	log       *slog.Logger
	metrics   *Metrics

	flights singleflight.Group
}

type ManagerOption func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithExchangeTimeout bounds each refresh exchange and the write that follows it.
func WithExchangeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a Manager over store and exchanger.
func NewManager(store Store, exchanger Exchanger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		exchanger: exchanger,
		now:       func() time.Time { return time.Now().UTC() },
		timeout:   DefaultExchangeTimeout,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidAccessToken returns an access token valid for at least
// RefreshBufferWindow, refreshing it first when needed.
//
// Errors are *TokenError with code NotConnected or RefreshFailed, or a
// wrapped store error when the link could not be read or written.
func (m *Manager) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", notConnected(accountID, ErrMissingAccountID)
	}
	link, err := m.loadConnected(ctx, accountID)
	if err != nil {
		return "", err
	}
	if link.Fresh(m.now()) {
		if m.metrics != nil {
			m.metrics.CacheHits.Inc()
		}
		return link.AccessToken, nil
	}
	return m.refresh(ctx, accountID)
}

func (m *Manager) loadConnected(ctx context.Context, accountID string) (*AccountLink, error) {
	link, err := m.store.GetLink(ctx, accountID)
	if errors.Is(err, ErrLinkNotFound) {
		return nil, notConnected(accountID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load account link %s: %w", accountID, err)
	}
	if !link.Connected() {
		return nil, notConnected(accountID, nil)
	}
	return link, nil
}

// refresh joins or starts the account's flight. The flight runs detached from
// ctx so a caller giving up does not cancel it for the others.
func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	ch := m.flights.DoChan(accountID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.doRefresh(fctx, accountID)
	})
	select {
	case res := <-ch:
		if res.Shared && m.metrics != nil {
			m.metrics.SharedWaits.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", refreshFailed(accountID, ctx.Err())
	}
}

func (m *Manager) doRefresh(ctx context.Context, accountID string) (string, error) {
	// Re-read inside the flight: a flight that finished just before this one
	// started may already have stored a fresh token.
	link, err := m.loadConnected(ctx, accountID)
	if err != nil {
		return "", err
	}
	if link.Fresh(m.now()) {
		return link.AccessToken, nil
	}

	m.log.DebugContext(ctx, "refreshing access token", "account_id", accountID)
	start := time.Now()
	tok, err := m.exchanger.Exchange(ctx, link.RefreshToken)
	if m.metrics != nil {
		m.metrics.ExchangeDuration.Observe(time.Since(start).Seconds())
	}
	if err == nil && tok.AccessToken == "" {
		err = ErrIncompleteTokens
	}
	if err != nil {
		m.observe("failed")
		m.log.WarnContext(ctx, "refresh exchange failed", "account_id", accountID, "error", err)
		return "", refreshFailed(accountID, err)
	}

	err = m.store.SwapAccessToken(ctx, accountID, link.Version(), tok.AccessToken, tok.ExpiresAt)
	if errors.Is(err, ErrVersionConflict) {
		m.observe("conflict")
		return m.afterConflict(ctx, accountID)
	}
	if err != nil {
		m.observe("store_error")
		return "", fmt.Errorf("persist refreshed token for %s: %w", accountID, err)
	}
	m.observe("refreshed")
	m.log.InfoContext(ctx, "access token refreshed", "account_id", accountID, "expires_at", tok.ExpiresAt)
	return tok.AccessToken, nil
}

// afterConflict resolves a lost compare-and-set: another writer either
// disconnected the link or stored its own token.
func (m *Manager) afterConflict(ctx context.Context, accountID string) (string, error) {
	link, err := m.loadConnected(ctx, accountID)
	if err != nil {
		return "", err
	}
	if link.Fresh(m.now()) {
		return link.AccessToken, nil
	}
	return "", refreshFailed(accountID, ErrVersionConflict)
}

func (m *Manager) observe(outcome string) {
	if m.metrics != nil {
		m.metrics.Refreshes.WithLabelValues(outcome).Inc()
	}
}
