package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ConnectTokenData is the pairing state held between QR generation and the
// mobile app redeeming the token.
type ConnectTokenData struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Nonce          string    `json:"nonce"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ConnectTokenStore holds one-time mobile pairing tokens. Take removes the
// token atomically so a token can never be redeemed twice.
type ConnectTokenStore interface {
	Put(ctx context.Context, token string, data ConnectTokenData) error
	Take(ctx context.Context, token string) (*ConnectTokenData, error)
}

// MemoryConnectTokenStore is the single-instance default.
type MemoryConnectTokenStore struct {
	mu     sync.Mutex
	tokens map[string]ConnectTokenData
}

func NewMemoryConnectTokenStore() *MemoryConnectTokenStore {
	return &MemoryConnectTokenStore{tokens: make(map[string]ConnectTokenData)}
}

func (s *MemoryConnectTokenStore) Put(ctx context.Context, token string, data ConnectTokenData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Opportunistic sweep keeps abandoned tokens from accumulating
	now := time.Now()
	for t, d := range s.tokens {
		if now.After(d.ExpiresAt) {
			delete(s.tokens, t)
		}
	}

	s.tokens[token] = data
	return nil
}

func (s *MemoryConnectTokenStore) Take(ctx context.Context, token string) (*ConnectTokenData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.tokens[token]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, token)
	return &data, nil
}

// RedisConnectTokenStore backs pairing tokens with Redis so any replica can
// redeem a token generated by another. GETDEL gives the same one-shot
// semantics the memory store has.
type RedisConnectTokenStore struct {
	client *redis.Client
}

func NewRedisConnectTokenStore(client *redis.Client) *RedisConnectTokenStore {
	return &RedisConnectTokenStore{client: client}
}

func (s *RedisConnectTokenStore) key(token string) string {
	return "connect_token:" + token
}

func (s *RedisConnectTokenStore) Put(ctx context.Context, token string, data ConnectTokenData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal connect token: %w", err)
	}

	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("connect token already expired")
	}

	return s.client.Set(ctx, s.key(token), payload, ttl).Err()
}

func (s *RedisConnectTokenStore) Take(ctx context.Context, token string) (*ConnectTokenData, error) {
	raw, err := s.client.GetDel(ctx, s.key(token)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to take connect token: %w", err)
	}

	var data ConnectTokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connect token: %w", err)
	}
	return &data, nil
}
