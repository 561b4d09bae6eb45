package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Plan is a billing tier.
type Plan string

const (
	Free         Plan = "FREE"
	Starter      Plan = "STARTER"
	Professional Plan = "PROFESSIONAL"
	Agency       Plan = "AGENCY"
)

// SubscriptionActive is the subscription status that grants access.
const SubscriptionActive = "active"

var ErrAccountNotFound = errors.New("billing account not found")

// Account is a tenant's billing profile. Plan and PlanExpires form the trial
// window; only the sweeper downgrades it.
type Account struct {
	TenantID           string     `bson:"tenant_id" json:"tenant_id"`
	Plan               Plan       `bson:"plan" json:"plan"`
	PlanExpires        *time.Time `bson:"plan_expires,omitempty" json:"plan_expires,omitempty"`
	SubscriptionID     string     `bson:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	SubscriptionStatus string     `bson:"subscription_status,omitempty" json:"subscription_status,omitempty"`
	UpdatedAt          time.Time  `bson:"updated_at" json:"updated_at"`
}

// Expired reports whether a paid plan's window has passed at now. FREE never
// expires and a paid plan without an expiry is open-ended.
func (a *Account) Expired(now time.Time) bool {
	if a == nil || a.Plan == Free || a.PlanExpires == nil {
		return false
	}
	return !a.PlanExpires.After(now)
}

// SubscriptionIsActive reports a present subscription id with status active.
func (a *Account) SubscriptionIsActive() bool {
	return a != nil && a.SubscriptionID != "" && strings.EqualFold(a.SubscriptionStatus, SubscriptionActive)
}

// ParsePlan accepts a plan name in any case.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToUpper(strings.TrimSpace(s))); p {
	case Free, Starter, Professional, Agency:
		return p, nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

// NewTrial opens a paid trial on plan that ends period after now.
func NewTrial(tenantID string, plan Plan, now time.Time, period time.Duration) *Account {
	expires := now.Add(period)
	return &Account{
		TenantID:    tenantID,
		Plan:        plan,
		PlanExpires: &expires,
		UpdatedAt:   now,
	}
}
