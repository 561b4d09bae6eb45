package oclient

import (
	"errors"
	"fmt"
)

var (
	ErrLinkNotFound      = errors.New("account link not found")
	ErrVersionConflict   = errors.New("account link changed concurrently")
	ErrStateNotFound     = errors.New("oauth state not found or expired")
	ErrStateMismatch     = errors.New("oauth state was issued to another tenant")
	ErrInvalidSelector   = errors.New("invalid resource selector")
	ErrMissingAccountID  = errors.New("account id is required")
	ErrIncompleteTokens  = errors.New("identity provider returned an incomplete token")
	ErrSealerKeyRequired = errors.New("sealer key must be 32 bytes")
)

// TokenErrorCode classifies why no usable access token could be produced.
type TokenErrorCode string

const (
	NotConnected  TokenErrorCode = "not_connected"
	RefreshFailed TokenErrorCode = "refresh_failed"
)

// TokenError is returned by Manager.GetValidAccessToken.
type TokenError struct {
	Code      TokenErrorCode
	AccountID string
	Err       error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oclient: %s for account %s: %v", e.Code, e.AccountID, e.Err)
	}
	return fmt.Sprintf("oclient: %s for account %s", e.Code, e.AccountID)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// IsNotConnected reports whether err carries a NotConnected token error.
func IsNotConnected(err error) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Code == NotConnected
}

// IsRefreshFailed reports whether err carries a RefreshFailed token error.
func IsRefreshFailed(err error) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Code == RefreshFailed
}

func notConnected(accountID string, cause error) *TokenError {
	return &TokenError{Code: NotConnected, AccountID: accountID, Err: cause}
}

func refreshFailed(accountID string, cause error) *TokenError {
	return &TokenError{Code: RefreshFailed, AccountID: accountID, Err: cause}
}
