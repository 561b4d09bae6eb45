package oclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var _ Store = &RedisStore{}

const redisLinkPrefix = "linkguard:link:"

// RedisStore keeps each link in a hash. Compare-and-set writes run inside a
// WATCH transaction on the link key.
type RedisStore struct {
	rdb    redis.UniversalClient
	sealer Sealer
	now    func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient, sealer Sealer) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		sealer: sealerOrPlain(sealer),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func linkKey(accountID string) string {
	return redisLinkPrefix + accountID
}

func (s *RedisStore) GetLink(ctx context.Context, accountID string) (*AccountLink, error) {
	fields, err := s.rdb.HGetAll(ctx, linkKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account link: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrLinkNotFound
	}
	return s.decode(accountID, fields)
}

func (s *RedisStore) decode(accountID string, f map[string]string) (*AccountLink, error) {
	access, err := s.sealer.Open(f["access_token"])
	if err != nil {
		return nil, fmt.Errorf("failed to open access token: %w", err)
	}
	refresh, err := s.sealer.Open(f["refresh_token"])
	if err != nil {
		return nil, fmt.Errorf("failed to open refresh token: %w", err)
	}
	l := &AccountLink{
		AccountID:    accountID,
		TenantID:     f["tenant_id"],
		Provider:     f["provider"],
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    parseRedisTime(f["expires_at"]),
		ConnectedAt:  parseRedisTime(f["connected_at"]),
	}
	if u := parseRedisTime(f["updated_at"]); u != nil {
		l.UpdatedAt = *u
	}
	if raw := f["selected_resources"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &l.SelectedResources); err != nil {
			return nil, fmt.Errorf("failed to decode selected resources: %w", err)
		}
	}
	return l, nil
}

func (s *RedisStore) SaveLink(ctx context.Context, link *AccountLink) error {
	if link == nil || link.AccountID == "" {
		return ErrMissingAccountID
	}
	access, err := s.sealer.Seal(link.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	refresh, err := s.sealer.Seal(link.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to seal refresh token: %w", err)
	}
	selectors, err := json.Marshal(link.SelectedResources)
	if err != nil {
		return err
	}
	link.UpdatedAt = s.now()
	return s.rdb.HSet(ctx, linkKey(link.AccountID), map[string]any{
		"tenant_id":          link.TenantID,
		"provider":           link.Provider,
		"access_token":       access,
		"access_token_sha":   tokenDigest(link.AccessToken),
		"refresh_token":      refresh,
		"expires_at":         formatRedisTime(link.ExpiresAt),
		"connected_at":       formatRedisTime(link.ConnectedAt),
		"selected_resources": string(selectors),
		"updated_at":         formatRedisTime(&link.UpdatedAt),
	}).Err()
}

func (s *RedisStore) SwapAccessToken(ctx context.Context, accountID string, prev TokenVersion, accessToken string, expiresAt time.Time) error {
	sealed, err := s.sealer.Seal(accessToken)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	key := linkKey(accountID)
	exp := expiresAt.UTC()
	now := s.now()
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HMGet(ctx, key, "access_token_sha", "expires_at").Result()
		if err != nil {
			return err
		}
		sha, _ := cur[0].(string)
		curExp, _ := cur[1].(string)
		if sha != tokenDigest(prev.AccessToken) || curExp != formatRedisTime(prev.ExpiresAt) {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"access_token":     sealed,
				"access_token_sha": tokenDigest(accessToken),
				"expires_at":       formatRedisTime(&exp),
				"updated_at":       formatRedisTime(&now),
			})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

func (s *RedisStore) SetSelectedResources(ctx context.Context, accountID string, selectors []string) error {
	key := linkKey(accountID)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLinkNotFound
	}
	raw, err := json.Marshal(selectors)
	if err != nil {
		return err
	}
	now := s.now()
	return s.rdb.HSet(ctx, key, "selected_resources", string(raw), "updated_at", formatRedisTime(&now)).Err()
}

func (s *RedisStore) ClearLink(ctx context.Context, accountID string) error {
	now := s.now()
	return s.rdb.HSet(ctx, linkKey(accountID), map[string]any{
		"access_token":       "",
		"access_token_sha":   "",
		"refresh_token":      "",
		"expires_at":         "",
		"connected_at":       "",
		"selected_resources": "",
		"updated_at":         formatRedisTime(&now),
	}).Err()
}

func formatRedisTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseRedisTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
