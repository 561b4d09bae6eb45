package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/Seann-Moser/linkguard/utils"
)

var ErrMissingTenant = errors.New("session requires user and tenant ids")

// Client issues and verifies session cookies.
type Client struct {
	ttl    time.Duration
	secret []byte
	now    func() time.Time
}

// NewClient constructs a Client
func NewClient(secret []byte, sessionTTL time.Duration) *Client {
	return &Client{
		ttl:    sessionTTL,
		secret: secret,
		now:    time.Now,
	}
}

// Authenticate returns the signed-in session carried by the request.
func (c *Client) Authenticate(r *http.Request) (*UserSessionData, error) {
	ck, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	u, err := decode(ck, c.secret, c.now())
	if err != nil {
		return nil, err
	}
	if !u.SignedIn || u.TenantID == "" {
		return nil, ErrInvalidSession
	}
	return u, nil
}

// SignIn issues a session cookie for the tenant owner.
func (c *Client) SignIn(w http.ResponseWriter, r *http.Request, userID, tenantID string) (*UserSessionData, error) {
	if userID == "" || tenantID == "" {
		return nil, ErrMissingTenant
	}
	u := &UserSessionData{
		UserID:    userID,
		TenantID:  tenantID,
		SignedIn:  true,
		ExpiresAt: c.now().Add(c.ttl).Unix(),
		Domain:    utils.GetDomain(r),
	}
	if err := SetSessionCookie(w, u, c.secret); err != nil {
		return nil, err
	}
	return u, nil
}

// SignOut drops the session cookie.
func (c *Client) SignOut(w http.ResponseWriter) {
	ClearSessionCookie(w)
}
