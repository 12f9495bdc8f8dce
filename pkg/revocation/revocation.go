package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store tracks revoked refresh-token families in Redis. A family is revoked
// when rotation reuse is detected or on logout; the marker outlives the
// longest possible refresh token, then expires on its own.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new revocation store backed by the given Redis client
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

// RevokeFamily marks every token descended from the session as invalid.
func (s *Store) RevokeFamily(ctx context.Context, sessionID string, ttl time.Duration) error {
	key := fmt.Sprintf("revoked:family:%s", sessionID)

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	if err := s.redis.Set(ctx, key, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	return nil
}

// IsFamilyRevoked reports whether the session's token family has been revoked.
func (s *Store) IsFamilyRevoked(ctx context.Context, sessionID string) (bool, error) {
	key := fmt.Sprintf("revoked:family:%s", sessionID)

	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check family revocation: %w", err)
	}

	return exists > 0, nil
}

// RevokeUser invalidates every token issued to the user before now. Used when
// a password changes or an account is deactivated.
func (s *Store) RevokeUser(ctx context.Context, userID string, ttl time.Duration) error {
	key := fmt.Sprintf("revoked:user:%s", userID)

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return s.redis.Set(ctx, key, time.Now().Unix(), ttl).Err()
}

// IsUserRevoked reports whether a token issued at the given time predates the
// user's revocation marker.
func (s *Store) IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	key := fmt.Sprintf("revoked:user:%s", userID)

	timestamp, err := s.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return issuedAt.Before(time.Unix(timestamp, 0)), nil
}
