package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

var sweepNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newSweeper(store Store) *Sweeper {
	return NewSweeper(store, WithSweeperClock(func() time.Time { return sweepNow }))
}

func seed(t *testing.T, s *MemoryStore, a Account) {
	t.Helper()
	if err := s.SaveAccount(context.Background(), &a); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
}

func TestSweep_ExpiredTrialThenIdempotent(t *testing.T) {
	store := NewMemoryStore()
	yesterday := sweepNow.Add(-24 * time.Hour)
	seed(t, store, Account{TenantID: "t1", Plan: Starter, PlanExpires: &yesterday})
	s := newSweeper(store)

	res, err := s.Sweep(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !res.Expired || res.Plan != Free || res.DowngradedTo != Free || res.Message == "" {
		t.Errorf("first sweep = %+v", res)
	}
	stored, _ := store.GetAccount(context.Background(), "t1")
	if stored.Plan != Free || stored.PlanExpires != nil {
		t.Errorf("stored = %+v", stored)
	}

	res, err = s.Sweep(context.Background(), "t1")
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if res.Expired || res.Plan != Free || res.DowngradedTo != "" {
		t.Errorf("second sweep = %+v", res)
	}
	if store.Writes != 1 {
		t.Errorf("writes = %d, want 1", store.Writes)
	}
}

func TestSweep_NoOps(t *testing.T) {
	tomorrow := sweepNow.Add(24 * time.Hour)
	tests := []struct {
		name    string
		account Account
		want    Result
	}{
		{"free", Account{TenantID: "t", Plan: Free}, Result{Plan: Free}},
		{"free with stale expiry", Account{TenantID: "t", Plan: Free, PlanExpires: &tomorrow}, Result{Plan: Free}},
		{"paid no expiry", Account{TenantID: "t", Plan: Agency}, Result{Plan: Agency}},
		{"paid future expiry", Account{TenantID: "t", Plan: Professional, PlanExpires: &tomorrow}, Result{Plan: Professional, ExpiresAt: &tomorrow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			seed(t, store, tt.account)
			res, err := newSweeper(store).Sweep(context.Background(), "t")
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if res.Expired || res.Plan != tt.want.Plan {
				t.Errorf("result = %+v", res)
			}
			if (res.ExpiresAt == nil) != (tt.want.ExpiresAt == nil) ||
				(res.ExpiresAt != nil && !res.ExpiresAt.Equal(*tt.want.ExpiresAt)) {
				t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, tt.want.ExpiresAt)
			}
			if store.Writes != 0 {
				t.Errorf("writes = %d", store.Writes)
			}
		})
	}
}

func TestSweep_ExpiresExactlyNow(t *testing.T) {
	store := NewMemoryStore()
	now := sweepNow
	seed(t, store, Account{TenantID: "t1", Plan: Starter, PlanExpires: &now})
	res, err := newSweeper(store).Sweep(context.Background(), "t1")
	if err != nil || !res.Expired {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestSweep_ConcurrentTriggersDowngradeOnce(t *testing.T) {
	store := NewMemoryStore()
	yesterday := sweepNow.Add(-24 * time.Hour)
	seed(t, store, Account{TenantID: "t1", Plan: Starter, PlanExpires: &yesterday})
	s := newSweeper(store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Sweep(context.Background(), "t1")
			if err != nil {
				t.Errorf("Sweep: %v", err)
			}
			if res.Plan != Free {
				t.Errorf("plan = %s", res.Plan)
			}
		}()
	}
	wg.Wait()
	if store.Writes != 1 {
		t.Errorf("writes = %d, want 1", store.Writes)
	}
}

func TestSweep_UnknownTenant(t *testing.T) {
	_, err := newSweeper(NewMemoryStore()).Sweep(context.Background(), "ghost")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestAccount_SubscriptionIsActive(t *testing.T) {
	tests := []struct {
		a    Account
		want bool
	}{
		{Account{SubscriptionID: "sub_1", SubscriptionStatus: "active"}, true},
		{Account{SubscriptionID: "sub_1", SubscriptionStatus: "past_due"}, false},
		{Account{SubscriptionStatus: "active"}, false},
		{Account{}, false},
	}
	for _, tt := range tests {
		if got := tt.a.SubscriptionIsActive(); got != tt.want {
			t.Errorf("%+v: got %v", tt.a, got)
		}
	}
}

func TestMongoStore_Sweep(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	yesterday := sweepNow.Add(-24 * time.Hour)

	mt.Run("downgrades", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "db.billing_accounts", mtest.FirstBatch, bson.D{
				{Key: "tenant_id", Value: "t1"},
				{Key: "plan", Value: "STARTER"},
				{Key: "plan_expires", Value: yesterday},
			}),
			bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}},
		)
		res, err := newSweeper(store).Sweep(context.Background(), "t1")
		if err != nil {
			mt.Fatalf("Sweep: %v", err)
		}
		if !res.Expired || res.DowngradedTo != Free {
			mt.Errorf("res = %+v", res)
		}
	})

	mt.Run("lost race reports current state", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "db.billing_accounts", mtest.FirstBatch, bson.D{
				{Key: "tenant_id", Value: "t1"},
				{Key: "plan", Value: "STARTER"},
				{Key: "plan_expires", Value: yesterday},
			}),
			bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}},
			mtest.CreateCursorResponse(0, "db.billing_accounts", mtest.FirstBatch, bson.D{
				{Key: "tenant_id", Value: "t1"},
				{Key: "plan", Value: "FREE"},
			}),
		)
		res, err := newSweeper(store).Sweep(context.Background(), "t1")
		if err != nil {
			mt.Fatalf("Sweep: %v", err)
		}
		if res.Expired || res.Plan != Free {
			mt.Errorf("res = %+v", res)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "db.billing_accounts", mtest.FirstBatch))
		if _, err := store.GetAccount(context.Background(), "t1"); !errors.Is(err, ErrAccountNotFound) {
			mt.Errorf("err = %v", err)
		}
	})
}
