package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "lobbyboard-auth",
		Audience:      "lobbyboard-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesActorTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	issued, err := issuer.IssueToken(context.Background(), Actor{ID: "user-123", Username: "ada", Role: "teacher"})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if issued.ExpiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", issued.ExpiresIn)
	}

	claims := &ActorClaims{}
	_, err = jwt.ParseWithClaims(issued.Value, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "user-123" || claims.Role != "teacher" || claims.Username != "ada" {
		t.Fatalf("unexpected claims %#v", claims)
	}
	if claims.Issuer != "lobbyboard-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
}

func TestTokenIssuerRoundTripsActor(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	issued, err := issuer.IssueToken(context.Background(), Actor{ID: "user-9", Username: "grace", Role: "student"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	actor, expiresAt, err := issuer.ValidateToken(issued.Value)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if actor.ID != "user-9" || actor.Username != "grace" || actor.Role != "student" {
		t.Fatalf("unexpected actor %#v", actor)
	}
	if expiresAt.Unix() != issued.ExpiresAt.Unix() {
		t.Fatalf("expected expiry %v, got %v", issued.ExpiresAt, expiresAt)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerConfig{
		Issuer:   "lobbyboard-auth",
		Audience: "lobbyboard-api",
	})
	if !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	issuer := newTestIssuer(t, func() time.Time { return issuedAt })
	issued, err := issuer.IssueToken(context.Background(), Actor{ID: "user-1", Role: "student"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	later := newTestIssuer(t, func() time.Time { return issuedAt.Add(time.Hour) })
	if _, _, err := later.ValidateToken(issued.Value); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignAudience(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	issued, err := issuer.IssueToken(context.Background(), Actor{ID: "user-1", Role: "student"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	other, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "lobbyboard-auth",
		Audience:      "another-api",
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := other.ValidateToken(issued.Value); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestTokenIssuerRequiresRole(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	if _, err := issuer.IssueToken(context.Background(), Actor{ID: "user-1"}); !errors.Is(err, errMissingRoleClaim) {
		t.Fatalf("expected missing role error, got %v", err)
	}
}
