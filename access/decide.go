package access

import (
	"errors"
	"strings"
	"time"

	"github.com/Seann-Moser/linkguard/billing"
	"github.com/Seann-Moser/linkguard/user"
)

// SignupFlow is the registration path a tenant came through.
type SignupFlow string

const (
	FlowFree      SignupFlow = "FREE"
	FlowPaidTrial SignupFlow = "PAID_TRIAL"
	FlowOther     SignupFlow = "OTHER"
)

// ParseSignupFlow maps stored values onto the three flows. Anything
// unrecognised, including empty, is OTHER.
func ParseSignupFlow(s string) SignupFlow {
	switch f := SignupFlow(strings.ToUpper(strings.TrimSpace(s))); f {
	case FlowFree, FlowPaidTrial:
		return f
	}
	return FlowOther
}

// Profile is derived per request; it is never stored.
type Profile struct {
	EmailVerified      bool       `json:"email_verified"`
	SubscriptionActive bool       `json:"subscription_active"`
	SignupFlow         SignupFlow `json:"signup_flow"`
	TrialEndDate       *time.Time `json:"trial_end_date,omitempty"`
}

// ProfileFor builds the profile from the tenant owner and billing account.
// Either may be nil, which yields the most restrictive signals.
func ProfileFor(u *user.User, account *billing.Account) Profile {
	p := Profile{SignupFlow: FlowOther}
	if u != nil {
		p.EmailVerified = u.EmailVerified
		p.SignupFlow = ParseSignupFlow(u.SignupFlow)
	}
	if account != nil {
		p.SubscriptionActive = account.SubscriptionIsActive()
		if account.Plan != billing.Free && account.PlanExpires != nil {
			t := *account.PlanExpires
			p.TrialEndDate = &t
		}
	}
	return p
}

// Reason explains a decision.
type Reason string

const (
	ReasonActiveSubscription Reason = "active-subscription"
	ReasonTrustedTrialFlow   Reason = "trusted-trial-flow"
	ReasonVerified           Reason = "verified"
	ReasonFreeFlowExempt     Reason = "free-flow-exempt"
	ReasonUnverified         Reason = "unverified"
)

// Decision is the route-level gate outcome. A block is a normal result.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Decide evaluates the route-level gate. The first matching rule wins:
//
//  1. active subscription
//  2. PAID_TRIAL signup, exempt from verification
//  3. verified email
//  4. FREE signup
//  5. otherwise blocked
func Decide(p Profile) Decision {
	switch {
	case p.SubscriptionActive:
		return Decision{Allowed: true, Reason: ReasonActiveSubscription}
	case p.SignupFlow == FlowPaidTrial:
		return Decision{Allowed: true, Reason: ReasonTrustedTrialFlow}
	case p.EmailVerified:
		return Decision{Allowed: true, Reason: ReasonVerified}
	case p.SignupFlow == FlowFree:
		return Decision{Allowed: true, Reason: ReasonFreeFlowExempt}
	default:
		return Decision{Allowed: false, Reason: ReasonUnverified}
	}
}

var ErrEmailNotVerified = errors.New("email address must be verified")

// CanCreateClient is the resource-level gate for creating a managed client.
// It requires a verified email even where Decide admits a FREE-flow tenant.
// TODO: confirm with product whether FREE-flow tenants should pass here too.
func CanCreateClient(p Profile) error {
	if !p.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}
