package linkguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Seann-Moser/linkguard/access"
	"github.com/Seann-Moser/linkguard/billing"
	"github.com/Seann-Moser/linkguard/session"
	"github.com/Seann-Moser/linkguard/user"
	"github.com/Seann-Moser/linkguard/utils"
)

// Tenant is what a gated handler receives about the caller.
type Tenant struct {
	UserID   string
	TenantID string
	Profile  access.Profile
	Decision access.Decision
	Sweep    *billing.Result
}

// HandlerFunc is a handler behind the Gate. The tenant is passed explicitly.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, t Tenant)

// Gate authenticates the session and applies the route-level access decision.
type Gate struct {
	sessions *session.Client
	users    user.Store
	accounts billing.Store
	sweeper  *billing.Sweeper
	log      *slog.Logger
}

type GateOption func(*Gate)

func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithSweeper enables the lazy trial sweep used by Sweeping.
func WithSweeper(s *billing.Sweeper) GateOption {
	return func(g *Gate) { g.sweeper = s }
}

func NewGate(sessions *session.Client, users user.Store, accounts billing.Store, opts ...GateOption) *Gate {
	g := &Gate{
		sessions: sessions,
		users:    users,
		accounts: accounts,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Profile derives the access profile of a tenant. A tenant without a billing
// account is treated as having no subscription.
func (g *Gate) Profile(ctx context.Context, tenantID string) (access.Profile, error) {
	u, err := g.users.GetUserByTenant(ctx, tenantID)
	if err != nil {
		return access.Profile{}, fmt.Errorf("load tenant owner: %w", err)
	}
	acct, err := g.accounts.GetAccount(ctx, tenantID)
	if errors.Is(err, billing.ErrAccountNotFound) {
		acct = nil
	} else if err != nil {
		return access.Profile{}, fmt.Errorf("load billing account: %w", err)
	}
	return access.ProfileFor(u, acct), nil
}

// Protect admits only signed-in tenants that Decide allows.
func (g *Gate) Protect(next HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := g.sessions.Authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "sign in required"})
			return
		}
		p, err := g.Profile(r.Context(), s.TenantID)
		if errors.Is(err, user.ErrUserNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unknown tenant"})
			return
		}
		if err != nil {
			g.log.ErrorContext(r.Context(), "profile lookup failed", "tenant_id", s.TenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "profile unavailable"})
			return
		}
		d := access.Decide(p)
		if !d.Allowed {
			g.log.InfoContext(r.Context(), "access blocked",
				"tenant_id", s.TenantID, "reason", d.Reason, "url", utils.RequestURL(r))
			writeJSON(w, http.StatusForbidden, d)
			return
		}
		next(w, r, Tenant{UserID: s.UserID, TenantID: s.TenantID, Profile: p, Decision: d})
	})
}

// Sweeping runs the trial sweep before next and refreshes the tenant's
// profile when the sweep downgraded the plan.
func (g *Gate) Sweeping(next HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, t Tenant) {
		if g.sweeper == nil {
			next(w, r, t)
			return
		}
		res, err := g.sweeper.Sweep(r.Context(), t.TenantID)
		if errors.Is(err, billing.ErrAccountNotFound) {
			next(w, r, t)
			return
		}
		if err != nil {
			g.log.ErrorContext(r.Context(), "trial sweep failed", "tenant_id", t.TenantID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "billing unavailable", Retryable: true})
			return
		}
		t.Sweep = &res
		if res.Expired {
			if p, err := g.Profile(r.Context(), t.TenantID); err == nil {
				t.Profile = p
			}
		}
		next(w, r, t)
	}
}

type errorBody struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
	Reconnect   bool   `json:"reconnect,omitempty"`
	RetryAfterS int    `json:"retry_after_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
