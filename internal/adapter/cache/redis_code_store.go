package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/bazar-auth/internal/domain"
	"github.com/smallbiznis/bazar-auth/internal/repository"
)

// RedisCodeStore implements CodeRepository backed by Redis. One-time codes
// are ephemeral by construction, so the code TTL doubles as the storage TTL:
// an expired code simply vanishes. One key per phone+purpose; issuing a new
// code replaces the previous one.
type RedisCodeStore struct {
	client redis.UniversalClient
}

var _ repository.CodeRepository = (*RedisCodeStore)(nil)

// NewRedisCodeStore constructs a Redis-backed code store.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func codeKey(phone string, purpose domain.CodePurpose) string {
	return fmt.Sprintf("phonecode:%s:%s", purpose, phone)
}

// Create persists the code under its phone+purpose key with the code's
// own expiry as TTL.
func (s *RedisCodeStore) Create(ctx context.Context, code domain.PhoneCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("code already expired")
	}
	if err := s.client.Set(ctx, codeKey(code.Phone, code.Purpose), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist code: %w", err)
	}
	return nil
}

// GetLatestUnconsumed loads the live code for phone+purpose. Verified codes
// are invisible here: a replayed verify sees the same outcome as an expired
// code.
func (s *RedisCodeStore) GetLatestUnconsumed(ctx context.Context, phoneNumber string, purpose domain.CodePurpose) (domain.PhoneCode, error) {
	bytes, err := s.client.Get(ctx, codeKey(phoneNumber, purpose)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.PhoneCode{}, domain.ErrNotFound
		}
		return domain.PhoneCode{}, fmt.Errorf("load code: %w", err)
	}
	var code domain.PhoneCode
	if err := json.Unmarshal(bytes, &code); err != nil {
		return domain.PhoneCode{}, fmt.Errorf("decode code: %w", err)
	}
	if code.Verified {
		return domain.PhoneCode{}, domain.ErrNotFound
	}
	return code, nil
}

// Save rewrites the stored code, keeping the original expiry. Used for
// attempt bumps and for the one-shot verified mark.
func (s *RedisCodeStore) Save(ctx context.Context, code domain.PhoneCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	if err := s.client.Set(ctx, codeKey(code.Phone, code.Purpose), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	return nil
}
