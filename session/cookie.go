package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNoSession      = errors.New("no session cookie")
	ErrInvalidSession = errors.New("invalid session cookie")
	ErrSessionExpired = errors.New("session expired")
)

// GetSessionFromCookie reads and verifies the session cookie
func GetSessionFromCookie(r *http.Request, secret []byte) (*UserSessionData, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	return decode(c, secret, time.Now())
}

func decode(c *http.Cookie, secret []byte, now time.Time) (*UserSessionData, error) {
	value, sig, ok := strings.Cut(c.Value, "|")
	if !ok || strings.Contains(sig, "|") {
		return nil, ErrInvalidSession
	}
	if !validateHMAC(value, sig, secret) {
		return nil, ErrInvalidSession
	}
	jsonData, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidSession
	}
	var u UserSessionData
	if err := json.Unmarshal(jsonData, &u); err != nil {
		return nil, ErrInvalidSession
	}
	if now.Unix() > u.ExpiresAt {
		return nil, ErrSessionExpired
	}
	return &u, nil
}
