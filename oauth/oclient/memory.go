package oclient

import (
	"context"
	"sync"
	"time"
)

var _ Store = &MemoryStore{}

// MemoryStore keeps links in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	links map[string]AccountLink
	now   func() time.Time

	// Swaps counts successful SwapAccessToken calls.
	Swaps int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links: make(map[string]AccountLink),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetLink(_ context.Context, accountID string) (*AccountLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[accountID]
	if !ok {
		return nil, ErrLinkNotFound
	}
	return cloneLink(&l), nil
}

func (s *MemoryStore) SaveLink(_ context.Context, link *AccountLink) error {
	if link == nil || link.AccountID == "" {
		return ErrMissingAccountID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	link.UpdatedAt = s.now()
	s.links[link.AccountID] = *cloneLink(link)
	return nil
}

func (s *MemoryStore) SwapAccessToken(_ context.Context, accountID string, prev TokenVersion, accessToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[accountID]
	if !ok || !prev.matches(l.AccessToken, l.ExpiresAt) {
		return ErrVersionConflict
	}
	exp := expiresAt.UTC()
	l.AccessToken = accessToken
	l.ExpiresAt = &exp
	l.UpdatedAt = s.now()
	s.links[accountID] = l
	s.Swaps++
	return nil
}

func (s *MemoryStore) SetSelectedResources(_ context.Context, accountID string, selectors []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[accountID]
	if !ok {
		return ErrLinkNotFound
	}
	l.SelectedResources = append([]string(nil), selectors...)
	l.UpdatedAt = s.now()
	s.links[accountID] = l
	return nil
}

func (s *MemoryStore) ClearLink(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[accountID]
	if !ok {
		return nil
	}
	l.AccessToken = ""
	l.RefreshToken = ""
	l.ExpiresAt = nil
	l.ConnectedAt = nil
	l.SelectedResources = nil
	l.UpdatedAt = s.now()
	s.links[accountID] = l
	return nil
}

func cloneLink(l *AccountLink) *AccountLink {
	c := *l
	c.ExpiresAt = utcPtr(l.ExpiresAt)
	c.ConnectedAt = utcPtr(l.ConnectedAt)
	if l.SelectedResources != nil {
		c.SelectedResources = append([]string(nil), l.SelectedResources...)
	}
	return &c
}
