package oclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const defaultStateTTL = 10 * time.Minute

var ErrUnknownProvider = errors.New("unknown oauth provider")

// Connector runs the connection handshake and the disconnect action. It is
// the only writer of whole AccountLinks.
type Connector struct {
	store        Store
	states       StateStore
	integrations map[string]Integration
	http         *http.Client
	now          func() time.Time
	stateTTL     time.Duration
	log          *slog.Logger
}

type ConnectorOption func(*Connector)

func WithConnectorClock(now func() time.Time) ConnectorOption {
	return func(c *Connector) { c.now = now }
}

func WithConnectorHTTPClient(h *http.Client) ConnectorOption {
	return func(c *Connector) { c.http = h }
}

func WithConnectorLogger(l *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}

func WithStateTTL(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.stateTTL = d
		}
	}
}

func NewConnector(store Store, states StateStore, integrations []Integration, opts ...ConnectorOption) *Connector {
	c := &Connector{
		store:        store,
		states:       states,
		integrations: make(map[string]Integration, len(integrations)),
		http:         &http.Client{Timeout: DefaultExchangeTimeout},
		now:          func() time.Time { return time.Now().UTC() },
		stateTTL:     defaultStateTTL,
		log:          slog.Default(),
	}
	for _, in := range integrations {
		c.integrations[strings.ToLower(in.Provider)] = in
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) integration(provider string) (Integration, error) {
	in, ok := c.integrations[strings.ToLower(provider)]
	if !ok {
		return Integration{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return in, nil
}

// AuthCodeURL starts a handshake and returns the consent URL plus its state.
// Offline access with forced consent makes the provider issue a refresh token.
func (c *Connector) AuthCodeURL(ctx context.Context, tenantID, provider string) (string, string, error) {
	in, err := c.integration(provider)
	if err != nil {
		return "", "", err
	}
	pk, err := newPKCEPair()
	if err != nil {
		return "", "", err
	}
	state := uuid.NewString()
	err = c.states.Put(ctx, state, PendingConnect{
		AccountID: LinkID(tenantID, in.Provider),
		TenantID:  tenantID,
		Provider:  in.Provider,
		Verifier:  pk.Verifier,
		CreatedAt: c.now(),
	}, c.stateTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	u := in.Config().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", pk.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkceMethodS256),
	)
	return u, state, nil
}

// Complete exchanges the authorization code and stores the connected link.
// The state must have been issued to tenantID; a state started by another
// tenant is consumed without exchanging the code.
// Selected resources survive a reconnect of a link that was never cleared.
func (c *Connector) Complete(ctx context.Context, tenantID, state, code string) (*AccountLink, error) {
	p, err := c.states.Take(ctx, state)
	if err != nil {
		return nil, err
	}
	if tenantID == "" || p.TenantID != tenantID {
		c.log.WarnContext(ctx, "oauth state used by another tenant",
			"account_id", p.AccountID, "tenant_id", tenantID)
		return nil, ErrStateMismatch
	}
	in, err := c.integration(p.Provider)
	if err != nil {
		return nil, err
	}
	xctx := context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := in.Config().Exchange(xctx, code, oauth2.VerifierOption(p.Verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange for %s: %w", p.AccountID, err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, ErrIncompleteTokens
	}

	now := c.now()
	exp := tok.Expiry.UTC()
	link := &AccountLink{
		AccountID:    p.AccountID,
		TenantID:     p.TenantID,
		Provider:     p.Provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &exp,
		ConnectedAt:  &now,
	}
	if prev, err := c.store.GetLink(ctx, p.AccountID); err == nil && prev.Connected() {
		link.SelectedResources = prev.SelectedResources
	}
	if err := c.store.SaveLink(ctx, link); err != nil {
		return nil, err
	}
	c.log.InfoContext(ctx, "account connected", "account_id", p.AccountID, "provider", p.Provider)
	return link, nil
}

// Disconnect clears every token and resource field of the link at once.
func (c *Connector) Disconnect(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrMissingAccountID
	}
	if err := c.store.ClearLink(ctx, accountID); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "account disconnected", "account_id", accountID)
	return nil
}

// SelectResources scopes future data pulls to the given provider-side selectors.
func (c *Connector) SelectResources(ctx context.Context, accountID string, selectors []string) error {
	clean := make([]string, 0, len(selectors))
	seen := make(map[string]struct{}, len(selectors))
	for _, s := range selectors {
		s = strings.TrimSpace(s)
		if s == "" {
			return ErrInvalidSelector
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		clean = append(clean, s)
	}
	link, err := c.store.GetLink(ctx, accountID)
	if err != nil {
		return err
	}
	if !link.Connected() {
		return notConnected(accountID, nil)
	}
	return c.store.SetSelectedResources(ctx, accountID, clean)
}

// ConnectionStatus is what the connection-status view shows. It never carries tokens.
type ConnectionStatus struct {
	AccountID         string     `json:"account_id"`
	Connected         bool       `json:"connected"`
	ConnectedAt       *time.Time `json:"connected_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	SelectedResources []string   `json:"selected_resources,omitempty"`
}

func (c *Connector) Status(ctx context.Context, accountID string) (ConnectionStatus, error) {
	link, err := c.store.GetLink(ctx, accountID)
	if errors.Is(err, ErrLinkNotFound) {
		return ConnectionStatus{AccountID: accountID}, nil
	}
	if err != nil {
		return ConnectionStatus{}, err
	}
	if !link.Connected() {
		return ConnectionStatus{AccountID: accountID}, nil
	}
	return ConnectionStatus{
		AccountID:         accountID,
		Connected:         true,
		ConnectedAt:       link.ConnectedAt,
		ExpiresAt:         link.ExpiresAt,
		SelectedResources: link.SelectedResources,
	}, nil
}
