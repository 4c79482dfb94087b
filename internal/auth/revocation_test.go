package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisRevocationListRevokesUntilExpiry(t *testing.T) {
	server := miniredis.RunT(t)
	list, err := NewRedisRevocationList(context.Background(), "redis://"+server.Addr())
	if err != nil {
		t.Fatalf("failed to create revocation list: %v", err)
	}
	defer list.Close()

	ctx := context.Background()
	revoked, err := list.IsRevoked(ctx, "token-a")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected fresh token to be accepted")
	}

	if err := list.Revoke(ctx, "token-a", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	revoked, err = list.IsRevoked(ctx, "token-a")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected token to be revoked")
	}

	server.FastForward(2 * time.Minute)
	revoked, err = list.IsRevoked(ctx, "token-a")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected revocation entry to expire with the token")
	}
}

func TestRedisRevocationListStoresHashedKeys(t *testing.T) {
	server := miniredis.RunT(t)
	list, err := NewRedisRevocationList(context.Background(), "redis://"+server.Addr())
	if err != nil {
		t.Fatalf("failed to create revocation list: %v", err)
	}
	defer list.Close()

	if err := list.Revoke(context.Background(), "raw-token", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if server.Exists(revokedKeyPrefix + "raw-token") {
		t.Fatalf("expected raw token not to be stored")
	}
	if !server.Exists(revocationKey("raw-token")) {
		t.Fatalf("expected hashed key to be stored")
	}
}

func TestRedisRevocationListIgnoresExpiredTokens(t *testing.T) {
	server := miniredis.RunT(t)
	list, err := NewRedisRevocationList(context.Background(), "redis://"+server.Addr())
	if err != nil {
		t.Fatalf("failed to create revocation list: %v", err)
	}
	defer list.Close()

	if err := list.Revoke(context.Background(), "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if len(server.Keys()) != 0 {
		t.Fatalf("expected no keys for already expired tokens, got %v", server.Keys())
	}
}

func TestNewRedisRevocationListRejectsBadURL(t *testing.T) {
	if _, err := NewRedisRevocationList(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected invalid url to fail")
	}
}
