package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result is the outcome of a sweep.
type Result struct {
	Expired      bool       `json:"expired"`
	Plan         Plan       `json:"plan"`
	DowngradedTo Plan       `json:"downgraded_to,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// Sweeper lazily downgrades expired paid trials. It runs at mutation entry
// points, not on a schedule.
type Sweeper struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

type SweeperOption func(*Sweeper)

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep downgrades the tenant to FREE if its paid plan has expired.
// Repeated calls are no-ops once the downgrade happened.
func (s *Sweeper) Sweep(ctx context.Context, tenantID string) (Result, error) {
	account, err := s.store.GetAccount(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("sweep %s: %w", tenantID, err)
	}
	now := s.now()
	if !account.Expired(now) {
		return current(account), nil
	}

	ok, err := s.store.DowngradeIfExpired(ctx, tenantID, account.Plan, now)
	if err != nil {
		return Result{}, fmt.Errorf("sweep %s: %w", tenantID, err)
	}
	if !ok {
		// a concurrent sweep or plan change got there first
		account, err = s.store.GetAccount(ctx, tenantID)
		if err != nil {
			return Result{}, fmt.Errorf("sweep %s: %w", tenantID, err)
		}
		return current(account), nil
	}

	s.log.InfoContext(ctx, "trial expired, downgraded to free",
		"tenant_id", tenantID, "plan", account.Plan, "plan_expires", account.PlanExpires)
	return Result{
		Expired:      true,
		Plan:         Free,
		DowngradedTo: Free,
		Message:      fmt.Sprintf("Your %s trial has ended and your account is now on the FREE plan.", account.Plan),
	}, nil
}

func current(a *Account) Result {
	r := Result{Plan: a.Plan}
	if a.Plan != Free && a.PlanExpires != nil {
		t := *a.PlanExpires
		r.ExpiresAt = &t
	}
	return r
}
