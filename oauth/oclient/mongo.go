package oclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = &MongoStore{}

// MongoStore is a MongoDB-backed implementation of Store.
type MongoStore struct {
	links  *mongo.Collection
	sealer Sealer
	now    func() time.Time
}

// NewMongoStore creates a store over the account_links collection. A nil
// sealer stores tokens as-is.
func NewMongoStore(db *mongo.Database, sealer Sealer) *MongoStore {
	return &MongoStore{
		links:  db.Collection("account_links"),
		sealer: sealerOrPlain(sealer),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique account_id index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.links.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type linkDoc struct {
	AccountID         string     `bson:"account_id"`
	TenantID          string     `bson:"tenant_id"`
	Provider          string     `bson:"provider"`
	AccessToken       string     `bson:"access_token"`
	AccessTokenSHA    string     `bson:"access_token_sha"`
	RefreshToken      string     `bson:"refresh_token"`
	ExpiresAt         *time.Time `bson:"expires_at"`
	ConnectedAt       *time.Time `bson:"connected_at"`
	SelectedResources []string   `bson:"selected_resources"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

// tokenDigest lets compare-and-set filters match a token without storing it in the clear.
func tokenDigest(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GetLink loads and unseals one link.
func (s *MongoStore) GetLink(ctx context.Context, accountID string) (*AccountLink, error) {
	var doc linkDoc
	err := s.links.FindOne(ctx, bson.M{"account_id": accountID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get account link: %w", err)
	}
	access, err := s.sealer.Open(doc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to open access token: %w", err)
	}
	refresh, err := s.sealer.Open(doc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to open refresh token: %w", err)
	}
	return &AccountLink{
		AccountID:         doc.AccountID,
		TenantID:          doc.TenantID,
		Provider:          doc.Provider,
		AccessToken:       access,
		RefreshToken:      refresh,
		ExpiresAt:         utcPtr(doc.ExpiresAt),
		ConnectedAt:       utcPtr(doc.ConnectedAt),
		SelectedResources: doc.SelectedResources,
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}, nil
}

// SaveLink upserts a complete link.
func (s *MongoStore) SaveLink(ctx context.Context, link *AccountLink) error {
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
	link.UpdatedAt = s.now()
	upd := bson.M{"$set": bson.M{
		"tenant_id":          link.TenantID,
		"provider":           link.Provider,
		"access_token":       access,
		"access_token_sha":   tokenDigest(link.AccessToken),
		"refresh_token":      refresh,
		"expires_at":         link.ExpiresAt,
		"connected_at":       link.ConnectedAt,
		"selected_resources": link.SelectedResources,
		"updated_at":         link.UpdatedAt,
	}}
	_, err = s.links.UpdateOne(ctx, bson.M{"account_id": link.AccountID}, upd, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save account link: %w", err)
	}
	return nil
}

// SwapAccessToken only touches access_token, expires_at and updated_at.
func (s *MongoStore) SwapAccessToken(ctx context.Context, accountID string, prev TokenVersion, accessToken string, expiresAt time.Time) error {
	sealed, err := s.sealer.Seal(accessToken)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	filter := bson.M{
		"account_id":       accountID,
		"access_token_sha": tokenDigest(prev.AccessToken),
		"expires_at":       prev.ExpiresAt,
	}
	upd := bson.M{"$set": bson.M{
		"access_token":     sealed,
		"access_token_sha": tokenDigest(accessToken),
		"expires_at":       expiresAt.UTC(),
		"updated_at":       s.now(),
	}}
	res, err := s.links.UpdateOne(ctx, filter, upd)
	if err != nil {
		return fmt.Errorf("failed to swap access token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SetSelectedResources replaces the selectors of a link.
func (s *MongoStore) SetSelectedResources(ctx context.Context, accountID string, selectors []string) error {
	res, err := s.links.UpdateOne(ctx, bson.M{"account_id": accountID}, bson.M{"$set": bson.M{
		"selected_resources": selectors,
		"updated_at":         s.now(),
	}})
	if err != nil {
		return fmt.Errorf("failed to set selected resources: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// ClearLink resets the link to disconnected. The document is kept so the
// tenant/provider pairing survives a reconnect.
func (s *MongoStore) ClearLink(ctx context.Context, accountID string) error {
	_, err := s.links.UpdateOne(ctx, bson.M{"account_id": accountID}, bson.M{"$set": bson.M{
		"access_token":       "",
		"access_token_sha":   "",
		"refresh_token":      "",
		"expires_at":         nil,
		"connected_at":       nil,
		"selected_resources": bson.A{},
		"updated_at":         s.now(),
	}})
	if err != nil {
		return fmt.Errorf("failed to clear account link: %w", err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
