package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seann-Moser/linkguard/session"
	"github.com/gorilla/mux"
)

func newTestServer(t *testing.T, opts ...ServerOption) (*mux.Router, *MemoryStore, *session.Client) {
	t.Helper()
	store := NewMemoryStore()
	sessions := session.NewClient([]byte("0123456789abcdef"), time.Hour)
	r := mux.NewRouter()
	NewServer(store, sessions, opts...).RegisterRoutes(r)
	return r, store, sessions
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "https://app.example.com"+path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRegisterHandler(t *testing.T) {
	var hooked []*User
	r, store, sessions := newTestServer(t, WithSignupHook(func(_ context.Context, u *User) error {
		hooked = append(hooked, u)
		return nil
	}))

	rr := post(r, "/signup", `{"email":"owner@example.com","password":"Passw0rdX","signup_flow":"PAID_TRIAL"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	var got map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, leaked := got["PasswordHash"]; leaked || got["signup_flow"] != SignupPaidTrial {
		t.Errorf("body = %v", got)
	}
	if len(hooked) != 1 || hooked[0].TenantID == "" {
		t.Fatalf("hook calls = %v", hooked)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}
	s, err := sessions.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.TenantID != hooked[0].TenantID {
		t.Errorf("session tenant = %s", s.TenantID)
	}

	u, err := store.GetUserByEmail(context.Background(), "owner@example.com")
	if err != nil || u.EmailVerified || len(u.PasswordHash) == 0 {
		t.Errorf("stored user = %+v, %v", u, err)
	}
}

func TestRegisterHandler_Rejects(t *testing.T) {
	r, _, _ := newTestServer(t)
	if rr := post(r, "/signup", `{"email":"dup@example.com","password":"Passw0rdX"}`); rr.Code != http.StatusCreated {
		t.Fatalf("first signup = %d", rr.Code)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad email", `{"email":"nope","password":"Passw0rdX"}`, http.StatusBadRequest},
		{"weak password", `{"email":"a@example.com","password":"short"}`, http.StatusBadRequest},
		{"unknown flow", `{"email":"a@example.com","password":"Passw0rdX","signup_flow":"ENTERPRISE"}`, http.StatusBadRequest},
		{"duplicate", `{"email":"DUP@example.com","password":"Passw0rdX"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := post(r, "/signup", tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRegisterHandler_HookFailureKeepsUser(t *testing.T) {
	r, store, _ := newTestServer(t, WithSignupHook(func(context.Context, *User) error {
		return errors.New("billing down")
	}))
	rr := post(r, "/signup", `{"email":"owner@example.com","password":"Passw0rdX"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d", rr.Code)
	}
	u, err := store.GetUserByEmail(context.Background(), "owner@example.com")
	if err != nil || u.SignupFlow != SignupFree {
		t.Errorf("user = %+v, %v", u, err)
	}
}

func TestLoginPasswordHandler(t *testing.T) {
	r, _, _ := newTestServer(t)
	post(r, "/signup", `{"email":"owner@example.com","password":"Passw0rdX"}`)

	rr := post(r, "/signin", `{"email":"Owner@example.com","password":"Passw0rdX"}`)
	if rr.Code != http.StatusOK || len(rr.Result().Cookies()) != 1 {
		t.Errorf("sign in = %d cookies=%d", rr.Code, len(rr.Result().Cookies()))
	}
	if rr := post(r, "/signin", `{"email":"owner@example.com","password":"Wrong0neX"}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", rr.Code)
	}
	if rr := post(r, "/signin", `{"email":"ghost@example.com","password":"Passw0rdX"}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("unknown email = %d", rr.Code)
	}
}

func TestLogoutHandler(t *testing.T) {
	r, _, _ := newTestServer(t)
	rr := post(r, "/signout", "")
	c := rr.Result().Cookies()
	if rr.Code != http.StatusNoContent || len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("signout = %d cookies=%v", rr.Code, c)
	}
}

func TestValidatePassword(t *testing.T) {
	for pw, ok := range map[string]bool{
		"Passw0rdX": true,
		"password1": false,
		"PASSWORD1": false,
		"Password":  false,
		"Sh0rt":     false,
	} {
		if err := ValidatePassword(pw); (err == nil) != ok {
			t.Errorf("ValidatePassword(%q) = %v", pw, err)
		}
	}
	if err := ValidatePassword(strings.Repeat("Aa1", 22)); err == nil {
		t.Error("66 character password accepted")
	}
}
