package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("user with this email already exists")
)

// =============================================================================
// Database Interface
// =============================================================================

// Store defines user storage operations.
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByTenant(ctx context.Context, tenantID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	MarkEmailVerified(ctx context.Context, userID string) error
}

// =============================================================================
// MongoDB Implementation of Store
// =============================================================================

var _ Store = &MongoDBStore{}

// MongoDBStore implements the Store interface using MongoDB.
type MongoDBStore struct {
	usersCollection *mongo.Collection
	now             func() time.Time
}

// NewMongoDBStore creates a new MongoDBStore instance.
func NewMongoDBStore(db *mongo.Database, usersCollectionName string) *MongoDBStore {
	return &MongoDBStore{
		usersCollection: db.Collection(usersCollectionName),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique id and email indexes.
func (m *MongoDBStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.usersCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}}},
	})
	return err
}

// GetUserByID retrieves a user by their ID.
func (m *MongoDBStore) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return m.findOne(ctx, bson.M{"id": userID})
}

// GetUserByTenant retrieves the owner of a tenant.
func (m *MongoDBStore) GetUserByTenant(ctx context.Context, tenantID string) (*User, error) {
	return m.findOne(ctx, bson.M{"tenant_id": tenantID})
}

// GetUserByEmail retrieves a user by email, compared case-insensitively.
func (m *MongoDBStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return m.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

func (m *MongoDBStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	err := m.usersCollection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// CreateUser creates a new user in the database.
func (m *MongoDBStore) CreateUser(ctx context.Context, user *User) error {
	prepareNew(user, m.now())
	_, err := m.usersCollection.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// MarkEmailVerified flags the user's email as verified.
func (m *MongoDBStore) MarkEmailVerified(ctx context.Context, userID string) error {
	res, err := m.usersCollection.UpdateOne(ctx, bson.M{"id": userID}, bson.M{
		"$set": bson.M{"email_verified": true, "updated_at": m.now()},
	})
	if err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func prepareNew(user *User, now time.Time) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.TenantID == "" {
		user.TenantID = user.ID
	}
	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// In-memory Implementation of Store
// =============================================================================

var _ Store = &MemoryStore{}

// MemoryStore keeps users in a map. Used by tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByTenant(_ context.Context, tenantID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TenantID == tenantID {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prepareNew(user, time.Now().UTC())
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrEmailTaken
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) MarkEmailVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.EmailVerified = true
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}
