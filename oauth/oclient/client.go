package oclient

import (
	"context"
	"time"
)

// Store persists AccountLinks keyed by account id. The Manager is the only
// writer of access tokens; Connector is the only writer of whole links.
type Store interface {
	// GetLink returns the link or ErrLinkNotFound.
	GetLink(ctx context.Context, accountID string) (*AccountLink, error)

	// SaveLink upserts a complete link after a successful handshake.
	SaveLink(ctx context.Context, link *AccountLink) error

	// SwapAccessToken writes a new access token and expiry only if the stored
	// pair still equals prev. Otherwise it returns ErrVersionConflict.
	SwapAccessToken(ctx context.Context, accountID string, prev TokenVersion, accessToken string, expiresAt time.Time) error

	// SetSelectedResources replaces the provider-side resource selectors.
	SetSelectedResources(ctx context.Context, accountID string, selectors []string) error

	// ClearLink resets every token and resource field together.
	ClearLink(ctx context.Context, accountID string) error
}

// Exchanger trades a refresh token for a new access token.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (ExchangedToken, error)
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context, refreshToken string) (ExchangedToken, error)

func (f ExchangerFunc) Exchange(ctx context.Context, refreshToken string) (ExchangedToken, error) {
	return f(ctx, refreshToken)
}

// TokenSource hands out access tokens that are valid for at least the
// refresh buffer window.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, accountID string) (string, error)
}
