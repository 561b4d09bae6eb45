package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists billing accounts.
type Store interface {
	GetAccount(ctx context.Context, tenantID string) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error

	// DowngradeIfExpired sets plan to FREE and clears planExpires only if the
	// stored plan still equals plan and planExpires <= now. It reports
	// whether the write happened.
	DowngradeIfExpired(ctx context.Context, tenantID string, plan Plan, now time.Time) (bool, error)
}

var _ Store = &MongoStore{}

// MongoStore keeps accounts in the billing_accounts collection.
type MongoStore struct {
	accounts *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{accounts: db.Collection("billing_accounts")}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) GetAccount(ctx context.Context, tenantID string) (*Account, error) {
	var a Account
	err := s.accounts.FindOne(ctx, bson.M{"tenant_id": tenantID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get billing account %s: %w", tenantID, err)
	}
	return &a, nil
}

func (s *MongoStore) SaveAccount(ctx context.Context, account *Account) error {
	account.UpdatedAt = time.Now().UTC()
	_, err := s.accounts.ReplaceOne(ctx, bson.M{"tenant_id": account.TenantID}, account, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save billing account %s: %w", account.TenantID, err)
	}
	return nil
}

func (s *MongoStore) DowngradeIfExpired(ctx context.Context, tenantID string, plan Plan, now time.Time) (bool, error) {
	filter := bson.M{
		"tenant_id":    tenantID,
		"plan":         plan,
		"plan_expires": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set":   bson.M{"plan": Free, "updated_at": now},
		"$unset": bson.M{"plan_expires": ""},
	}
	res, err := s.accounts.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("downgrade billing account %s: %w", tenantID, err)
	}
	return res.MatchedCount == 1, nil
}

var _ Store = &MemoryStore{}

// MemoryStore is a map-backed Store. Writes counts conditional downgrades.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	Writes   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) GetAccount(_ context.Context, tenantID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tenantID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(&a), nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := cloneAccount(account)
	a.UpdatedAt = time.Now().UTC()
	s.accounts[account.TenantID] = *a
	return nil
}

func (s *MemoryStore) DowngradeIfExpired(_ context.Context, tenantID string, plan Plan, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tenantID]
	if !ok || a.Plan != plan || a.PlanExpires == nil || a.PlanExpires.After(now) {
		return false, nil
	}
	a.Plan = Free
	a.PlanExpires = nil
	a.UpdatedAt = now
	s.accounts[tenantID] = a
	s.Writes++
	return true, nil
}

func cloneAccount(a *Account) *Account {
	c := *a
	if a.PlanExpires != nil {
		t := *a.PlanExpires
		c.PlanExpires = &t
	}
	return &c
}
