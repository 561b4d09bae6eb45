package oclient

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var _ Exchanger = &OAuth2Exchanger{}

// Integration holds the OAuth client settings for one provider.
type Integration struct {
	Provider     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// Config builds the oauth2 configuration for the integration.
func (in Integration) Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  in.AuthURL,
			TokenURL: in.TokenURL,
		},
		RedirectURL: in.RedirectURL,
		Scopes:      in.Scopes,
	}
}

// OAuth2Exchanger refreshes tokens against the provider's token endpoint.
type OAuth2Exchanger struct {
	cfg  *oauth2.Config
	http *http.Client
}

// NewOAuth2Exchanger uses an http client with the given timeout for every exchange.
func NewOAuth2Exchanger(in Integration, timeout time.Duration) *OAuth2Exchanger {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &OAuth2Exchanger{
		cfg:  in.Config(),
		http: &http.Client{Timeout: timeout},
	}
}

// Exchange performs the refresh_token grant. The caller's refresh token is
// never reused from an in-memory cache.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, refreshToken string) (ExchangedToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.http)
	tok, err := e.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return ExchangedToken{}, err
	}
	if tok.AccessToken == "" {
		return ExchangedToken{}, ErrIncompleteTokens
	}
	return ExchangedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}, nil
}
