package oclient

import (
	"strings"
	"time"
)

// RefreshBufferWindow is subtracted from an access token's expiry to decide
// when to refresh ahead of time.
const RefreshBufferWindow = 5 * time.Minute

// AccountLink is the stored OAuth connection of one tenant to one provider.
type AccountLink struct {
	AccountID         string     `bson:"account_id" json:"account_id"`
	TenantID          string     `bson:"tenant_id" json:"tenant_id"`
	Provider          string     `bson:"provider" json:"provider"`
	AccessToken       string     `bson:"access_token,omitempty" json:"-"`
	RefreshToken      string     `bson:"refresh_token,omitempty" json:"-"`
	ExpiresAt         *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	ConnectedAt       *time.Time `bson:"connected_at,omitempty" json:"connected_at,omitempty"`
	SelectedResources []string   `bson:"selected_resources,omitempty" json:"selected_resources,omitempty"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at"`
}

// Connected reports whether both tokens are present. A link holding only one
// of them is invalid and treated as disconnected.
func (l *AccountLink) Connected() bool {
	return l != nil && l.AccessToken != "" && l.RefreshToken != ""
}

// Fresh reports whether the access token can be used at now without a refresh.
// A missing expiry counts as expired.
func (l *AccountLink) Fresh(now time.Time) bool {
	if l == nil || l.ExpiresAt == nil {
		return false
	}
	return now.Before(l.ExpiresAt.Add(-RefreshBufferWindow))
}

// Version is the compare-and-set key for access token writes.
func (l *AccountLink) Version() TokenVersion {
	v := TokenVersion{AccessToken: l.AccessToken}
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		v.ExpiresAt = &t
	}
	return v
}

// TokenVersion identifies the access token a refresh was based on.
type TokenVersion struct {
	AccessToken string
	ExpiresAt   *time.Time
}

func (v TokenVersion) matches(accessToken string, expiresAt *time.Time) bool {
	if v.AccessToken != accessToken {
		return false
	}
	if v.ExpiresAt == nil || expiresAt == nil {
		return v.ExpiresAt == nil && expiresAt == nil
	}
	return v.ExpiresAt.Equal(*expiresAt)
}

// ExchangedToken is what the identity provider returns for a refresh or code exchange.
type ExchangedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// LinkID builds the account id of the link between a tenant and a provider.
func LinkID(tenantID, provider string) string {
	return strings.TrimSpace(tenantID) + ":" + strings.ToLower(strings.TrimSpace(provider))
}
