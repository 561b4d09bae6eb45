package oclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func seedLink(t *testing.T, s Store, accountID string, expiresIn time.Duration) {
	t.Helper()
	exp := testNow.Add(expiresIn)
	connected := testNow.Add(-24 * time.Hour)
	err := s.SaveLink(context.Background(), &AccountLink{
		AccountID:    accountID,
		TenantID:     "tenant-1",
		Provider:     "search_console",
		AccessToken:  "old-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    &exp,
		ConnectedAt:  &connected,
	})
	if err != nil {
		t.Fatalf("seed link: %v", err)
	}
}

// countingStore signals every GetLink so tests know callers have arrived.
type countingStore struct {
	*MemoryStore
	reads atomic.Int32
}

func (s *countingStore) GetLink(ctx context.Context, accountID string) (*AccountLink, error) {
	s.reads.Add(1)
	return s.MemoryStore.GetLink(ctx, accountID)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGetValidAccessToken_FreshTokenIsReused(t *testing.T) {
	store := NewMemoryStore()
	seedLink(t, store, "acct", 30*time.Minute)
	var calls atomic.Int32
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		calls.Add(1)
		return ExchangedToken{}, errors.New("should not be called")
	}), WithClock(fixedClock))

	tok, err := m.GetValidAccessToken(context.Background(), "acct")
	if err != nil {
		t.Fatalf("GetValidAccessToken error: %v", err)
	}
	if tok != "old-access" {
		t.Errorf("token = %q, want old-access", tok)
	}
	if calls.Load() != 0 {
		t.Errorf("exchange calls = %d, want 0", calls.Load())
	}
}

func TestGetValidAccessToken_NotConnected(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		t.Error("exchange must not run for a missing link")
		return ExchangedToken{}, nil
	}), WithClock(fixedClock))

	if _, err := m.GetValidAccessToken(context.Background(), "missing"); !IsNotConnected(err) {
		t.Errorf("missing link: err = %v, want NotConnected", err)
	}

	// only a refresh token: partial state counts as disconnected
	exp := testNow.Add(time.Hour)
	_ = store.SaveLink(context.Background(), &AccountLink{AccountID: "partial", RefreshToken: "r", ExpiresAt: &exp})
	if _, err := m.GetValidAccessToken(context.Background(), "partial"); !IsNotConnected(err) {
		t.Errorf("partial link: err = %v, want NotConnected", err)
	}

	if _, err := m.GetValidAccessToken(context.Background(), ""); !IsNotConnected(err) {
		t.Errorf("empty id: err = %v, want NotConnected", err)
	}
}

func TestGetValidAccessToken_RefreshesInsideBufferWindow(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
	}{
		{"within buffer", 4 * time.Minute},
		{"exactly at buffer", RefreshBufferWindow},
		{"already expired", -time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			seedLink(t, store, "acct", tt.expiresIn)
			m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
				if rt != "refresh-1" {
					t.Errorf("refresh token = %q", rt)
				}
				return ExchangedToken{AccessToken: "new-access", ExpiresAt: testNow.Add(time.Hour)}, nil
			}), WithClock(fixedClock))

			tok, err := m.GetValidAccessToken(context.Background(), "acct")
			if err != nil {
				t.Fatalf("GetValidAccessToken error: %v", err)
			}
			if tok != "new-access" {
				t.Errorf("token = %q, want new-access", tok)
			}
			l, _ := store.GetLink(context.Background(), "acct")
			if l.AccessToken != "new-access" || !l.ExpiresAt.Equal(testNow.Add(time.Hour)) {
				t.Errorf("stored link not updated: %+v", l)
			}
		})
	}
}

func TestGetValidAccessToken_MissingExpiryRefreshes(t *testing.T) {
	store := NewMemoryStore()
	_ = store.SaveLink(context.Background(), &AccountLink{AccountID: "acct", AccessToken: "a", RefreshToken: "r"})
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		return ExchangedToken{AccessToken: "b", ExpiresAt: testNow.Add(time.Hour)}, nil
	}), WithClock(fixedClock))
	tok, err := m.GetValidAccessToken(context.Background(), "acct")
	if err != nil || tok != "b" {
		t.Fatalf("got %q, %v; want b", tok, err)
	}
}

func TestGetValidAccessToken_SingleFlight(t *testing.T) {
	const callers = 16
	store := NewMemoryStore()
	seedLink(t, store, "acct", time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		calls.Add(1)
		<-release
		return ExchangedToken{AccessToken: "new-access", ExpiresAt: testNow.Add(time.Hour)}, nil
	}), WithClock(fixedClock))

	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidAccessToken(context.Background(), "acct")
		}(i)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("exchange calls = %d, want 1", calls.Load())
	}
	for i := range tokens {
		if errs[i] != nil || tokens[i] != "new-access" {
			t.Errorf("caller %d got %q, %v", i, tokens[i], errs[i])
		}
	}
	if store.Swaps != 1 {
		t.Errorf("store writes = %d, want 1", store.Swaps)
	}
}

func TestGetValidAccessToken_SharedFailure(t *testing.T) {
	const callers = 8
	store := &countingStore{MemoryStore: NewMemoryStore()}
	seedLink(t, store, "acct", -time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})
	boom := errors.New("invalid_grant")
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		calls.Add(1)
		<-release
		return ExchangedToken{}, boom
	}), WithClock(fixedClock))

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetValidAccessToken(context.Background(), "acct")
		}(i)
	}
	// every caller read the link once, plus the re-read inside the flight
	waitFor(t, func() bool { return store.reads.Load() >= callers+1 && calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("exchange calls = %d, want 1", calls.Load())
	}
	for i, err := range errs {
		if !IsRefreshFailed(err) || !errors.Is(err, boom) {
			t.Errorf("caller %d err = %v, want RefreshFailed wrapping %v", i, err, boom)
		}
	}
}

func TestGetValidAccessToken_FailureKeepsTokens(t *testing.T) {
	store := NewMemoryStore()
	seedLink(t, store, "acct", -time.Minute)
	fail := true
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		if fail {
			return ExchangedToken{}, errors.New("network down")
		}
		return ExchangedToken{AccessToken: "new-access", RefreshToken: "rotated", ExpiresAt: testNow.Add(time.Hour)}, nil
	}), WithClock(fixedClock))

	if _, err := m.GetValidAccessToken(context.Background(), "acct"); !IsRefreshFailed(err) {
		t.Fatalf("err = %v, want RefreshFailed", err)
	}
	l, _ := store.GetLink(context.Background(), "acct")
	if l.RefreshToken != "refresh-1" {
		t.Errorf("refresh token changed to %q", l.RefreshToken)
	}
	if l.AccessToken != "old-access" {
		t.Errorf("stale access token was not kept: %q", l.AccessToken)
	}

	fail = false
	if _, err := m.GetValidAccessToken(context.Background(), "acct"); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	l, _ = store.GetLink(context.Background(), "acct")
	if l.AccessToken != "new-access" || !l.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("access token/expiry not updated: %+v", l)
	}
	if l.RefreshToken != "refresh-1" || l.ConnectedAt == nil {
		t.Errorf("fields other than access token and expiry changed: %+v", l)
	}
}

func TestGetValidAccessToken_WaiterCancelDoesNotCancelFlight(t *testing.T) {
	store := NewMemoryStore()
	seedLink(t, store, "acct", -time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return ExchangedToken{}, ctx.Err()
		}
		return ExchangedToken{AccessToken: "new-access", ExpiresAt: testNow.Add(time.Hour)}, nil
	}), WithClock(fixedClock))

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := m.GetValidAccessToken(ctx, "acct")
		cancelled <- err
	}()
	waitFor(t, func() bool { return calls.Load() == 1 })

	other := make(chan string, 1)
	go func() {
		tok, _ := m.GetValidAccessToken(context.Background(), "acct")
		other <- tok
	}()

	cancel()
	if err := <-cancelled; !IsRefreshFailed(err) || !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter err = %v", err)
	}
	close(release)
	if tok := <-other; tok != "new-access" {
		t.Errorf("other waiter token = %q, want new-access", tok)
	}
	if calls.Load() != 1 {
		t.Errorf("exchange calls = %d, want 1", calls.Load())
	}
	l, _ := store.GetLink(context.Background(), "acct")
	if l.AccessToken != "new-access" {
		t.Errorf("flight result not persisted: %q", l.AccessToken)
	}
}

func TestGetValidAccessToken_AccountsDoNotBlockEachOther(t *testing.T) {
	store := NewMemoryStore()
	seedLink(t, store, "fast", -time.Minute)
	seedLink(t, store, "fresh", time.Hour)
	past := testNow.Add(-time.Minute)
	_ = store.SaveLink(context.Background(), &AccountLink{
		AccountID: "slow", AccessToken: "a", RefreshToken: "slow-refresh", ExpiresAt: &past,
	})

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		if rt == "slow-refresh" {
			close(started)
			<-release
			return ExchangedToken{}, errors.New("released")
		}
		return ExchangedToken{AccessToken: rt + "-new", ExpiresAt: testNow.Add(time.Hour)}, nil
	}), WithClock(fixedClock))

	go func() { _, _ = m.GetValidAccessToken(context.Background(), "slow") }()
	<-started

	done := make(chan struct{})
	go func() {
		defer close(done)
		if tok, err := m.GetValidAccessToken(context.Background(), "fresh"); err != nil || tok != "old-access" {
			t.Errorf("fresh account: %q, %v", tok, err)
		}
		if tok, err := m.GetValidAccessToken(context.Background(), "fast"); err != nil || tok != "refresh-1-new" {
			t.Errorf("fast account: %q, %v", tok, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated accounts blocked behind an in-flight refresh")
	}
}

func TestGetValidAccessToken_DisconnectDuringRefresh(t *testing.T) {
	store := NewMemoryStore()
	seedLink(t, store, "acct", -time.Minute)
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		if err := store.ClearLink(ctx, "acct"); err != nil {
			t.Errorf("clear: %v", err)
		}
		return ExchangedToken{AccessToken: "new-access", ExpiresAt: testNow.Add(time.Hour)}, nil
	}), WithClock(fixedClock))

	if _, err := m.GetValidAccessToken(context.Background(), "acct"); !IsNotConnected(err) {
		t.Errorf("err = %v, want NotConnected", err)
	}
	l, _ := store.GetLink(context.Background(), "acct")
	if l.AccessToken != "" {
		t.Errorf("refresh wrote over a disconnect: %q", l.AccessToken)
	}
}

func TestDisconnectThenGetIsNotConnected(t *testing.T) {
	store := NewMemoryStore()
	seedLink(t, store, "acct", time.Hour)
	c := NewConnector(store, NewMemoryStateStore(), nil)
	m := NewManager(store, ExchangerFunc(func(ctx context.Context, rt string) (ExchangedToken, error) {
		return ExchangedToken{AccessToken: "x", ExpiresAt: testNow.Add(time.Hour)}, nil
	}), WithClock(fixedClock))

	if err := c.Disconnect(context.Background(), "acct"); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	if _, err := m.GetValidAccessToken(context.Background(), "acct"); !IsNotConnected(err) {
		t.Errorf("err = %v, want NotConnected", err)
	}
	l, _ := store.GetLink(context.Background(), "acct")
	if l.RefreshToken != "" || l.ExpiresAt != nil || l.ConnectedAt != nil || len(l.SelectedResources) != 0 {
		t.Errorf("disconnect left fields behind: %+v", l)
	}
}
