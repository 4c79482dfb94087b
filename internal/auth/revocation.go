package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "revoked:"

// RevocationList records tokens that must no longer be accepted before they expire.
type RevocationList interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RedisRevocationList stores revoked token hashes in redis with a TTL matching the token expiry.
type RedisRevocationList struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisRevocationList connects to redisURL and verifies the connection.
func NewRedisRevocationList(ctx context.Context, redisURL string) (*RedisRevocationList, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRevocationListWithClient(client), nil
}

// NewRedisRevocationListWithClient wraps an existing client.
func NewRedisRevocationListWithClient(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client, clock: time.Now}
}

func (l *RedisRevocationList) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(l.clock())
	if ttl <= 0 {
		return nil
	}
	if err := l.client.Set(ctx, revocationKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	err := l.client.Get(ctx, revocationKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return true, nil
}

// Close closes the redis connection.
func (l *RedisRevocationList) Close() error {
	return l.client.Close()
}

func revocationKey(token string) string {
	digest := sha256.Sum256([]byte(token))
	return revokedKeyPrefix + hex.EncodeToString(digest[:])
}

// NoopRevocationList is used when no redis is configured; logout then only affects the client.
type NoopRevocationList struct{}

func (NoopRevocationList) Revoke(context.Context, string, time.Time) error {
	return nil
}

func (NoopRevocationList) IsRevoked(context.Context, string) (bool, error) {
	return false, nil
}
