package session

const sessionCookieName = "session"

// UserSessionData identifies the signed-in tenant owner. Handlers receive it
// as an explicit argument; it is not stashed in the request context.
type UserSessionData struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	SignedIn  bool   `json:"signed_in"`
	ExpiresAt int64  `json:"expires_at"`
	Domain    string `json:"domain,omitempty"`
}
