package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

var (
	// ErrSessionNotFound is returned for unknown, revoked, or expired tokens
	ErrSessionNotFound = errors.New("session not found")
	// ErrStateNotFound is returned for unknown or already consumed OAuth states
	ErrStateNotFound = errors.New("oauth state not found")
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logrus.Infof("Connected to Redis at %s", addr)
	return client, nil
}

// SessionStore keeps access-token sessions in Redis. Tokens are never stored,
// only their SHA256 hash is used as the key.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore wraps an existing client
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// generateTokenHash creates a SHA256 hash of the access token for use as Redis key
func generateTokenHash(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func sessionKey(token string) string {
	return "token:session:" + generateTokenHash(token)
}

func userSessionsKey(userID uuid.UUID) string {
	return "user:sessions:" + userID.String()
}

// Create stores a new session for token, expiring after ttl
func (s *SessionStore) Create(ctx context.Context, token string, profile models.UserProfile, ttl time.Duration) (*models.TokenSession, error) {
	now := time.Now()
	session := &models.TokenSession{
		UserProfile: profile,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(ttl),
		SessionID:   uuid.New().String(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sessionKey(token)
	indexKey := userSessionsKey(profile.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, indexKey, key)
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store session in Redis: %w", err)
	}

	return session, nil
}

// Get returns the live session for token
func (s *SessionStore) Get(ctx context.Context, token string) (*models.TokenSession, error) {
	key := sessionKey(token)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session models.TokenSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if session.IsExpired() {
		s.client.Del(ctx, key)
		return nil, ErrSessionNotFound
	}

	return &session, nil
}

// Touch records activity on the session without extending its lifetime
func (s *SessionStore) Touch(ctx context.Context, token string) error {
	session, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	session.UpdateLastUsed()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal updated session: %w", err)
	}

	remaining := time.Until(session.ExpiresAt)
	if remaining <= 0 {
		return ErrSessionNotFound
	}
	return s.client.Set(ctx, sessionKey(token), data, remaining).Err()
}

// Revoke removes the session for token
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	session, err := s.Get(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	key := sessionKey(token)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, userSessionsKey(session.UserProfile.UserID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser removes every session belonging to userID
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	indexKey := userSessionsKey(userID)
	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys = append(keys, indexKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return nil
}

func stateKey(state string) string {
	return "oauth:state:" + state
}

// PutState remembers an OAuth state value for the given provider
func (s *SessionStore) PutState(ctx context.Context, state, provider string, ttl time.Duration) error {
	return s.client.Set(ctx, stateKey(state), provider, ttl).Err()
}

// ConsumeState returns the provider bound to state and deletes it, so each
// state can complete at most one callback.
func (s *SessionStore) ConsumeState(ctx context.Context, state string) (string, error) {
	provider, err := s.client.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read oauth state: %w", err)
	}
	return provider, nil
}

// Ping checks the Redis connection
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
