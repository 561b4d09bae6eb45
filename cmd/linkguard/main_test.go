package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Seann-Moser/linkguard/billing"
	"github.com/Seann-Moser/linkguard/config"
	"github.com/Seann-Moser/linkguard/provider"
	"github.com/Seann-Moser/linkguard/user"
)

func TestBuildIntegrations(t *testing.T) {
	google := config.OAuthClient{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/oauth/callback",
		AuthURL:      "https://accounts.google.com/o/oauth2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
	}
	got := buildIntegrations(google)
	want := map[provider.ProviderKind]string{
		provider.SearchConsole: "https://www.googleapis.com/auth/webmasters.readonly",
		provider.Analytics:     "https://www.googleapis.com/auth/analytics.readonly",
		provider.PageSpeed:     "openid",
	}
	if len(got) != len(want) {
		t.Fatalf("integrations = %d, want %d", len(got), len(want))
	}
	if got[0].Provider != string(provider.SearchConsole) {
		t.Errorf("first integration = %s", got[0].Provider)
	}
	for _, in := range got {
		scope, ok := want[provider.ProviderKind(in.Provider)]
		if !ok || len(in.Scopes) == 0 || in.Scopes[0] != scope {
			t.Errorf("%s scopes = %v", in.Provider, in.Scopes)
		}
		if in.ClientID != "id" || in.TokenURL != google.TokenURL || in.RedirectURL != google.RedirectURL {
			t.Errorf("%s client = %+v", in.Provider, in)
		}
	}
}

func TestTrialOpener(t *testing.T) {
	ctx := context.Background()
	accounts := billing.NewMemoryStore()
	open := trialOpener(accounts, billing.Starter, 14*24*time.Hour)

	if err := open(ctx, &user.User{TenantID: "free", SignupFlow: user.SignupFree}); err != nil {
		t.Fatalf("free signup: %v", err)
	}
	if _, err := accounts.GetAccount(ctx, "free"); !errors.Is(err, billing.ErrAccountNotFound) {
		t.Errorf("free signup opened an account: %v", err)
	}

	before := time.Now().UTC()
	if err := open(ctx, &user.User{TenantID: "trial", SignupFlow: user.SignupPaidTrial}); err != nil {
		t.Fatalf("trial signup: %v", err)
	}
	acct, err := accounts.GetAccount(ctx, "trial")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Plan != billing.Starter || acct.PlanExpires == nil || acct.PlanExpires.Before(before.Add(14*24*time.Hour)) {
		t.Errorf("account = %+v", acct)
	}
}

func TestMarkVerified(t *testing.T) {
	ctx := context.Background()
	users := user.NewMemoryStore()
	u := &user.User{Email: "owner@example.com", TenantID: "t1"}
	if err := users.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := markVerified(ctx, users, log, "missing"); !errors.Is(err, user.ErrUserNotFound) {
		t.Errorf("missing user: err = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := markVerified(ctx, users, log, u.ID); err != nil {
			t.Fatalf("markVerified #%d: %v", i, err)
		}
	}
	got, err := users.GetUserByID(ctx, u.ID)
	if err != nil || !got.EmailVerified {
		t.Errorf("user = %+v, %v", got, err)
	}
}
