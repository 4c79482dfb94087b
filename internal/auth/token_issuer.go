package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 10 * 24 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("token issuer must be provided")
	errMissingAudience      = errors.New("token audience must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errMissingRoleClaim     = errors.New("role claim must be provided")
)

// Actor is the authenticated caller derived from a validated token.
type Actor struct {
	ID       string
	Username string
	Role     string
}

// ActorClaims is the JWT payload carried by lobbyboard tokens.
type ActorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates actor tokens.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// IssuedToken describes a freshly signed token.
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
	ExpiresIn int64
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errMissingIssuer
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errMissingAudience
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// IssueToken produces a signed JWT for the actor.
func (i *TokenIssuer) IssueToken(_ context.Context, actor Actor) (IssuedToken, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return IssuedToken{}, errMissingSubjectClaim
	}
	if strings.TrimSpace(actor.Role) == "" {
		return IssuedToken{}, errMissingRoleClaim
	}

	tokenID, err := uuid.NewV7()
	if err != nil {
		return IssuedToken{}, err
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := ActorClaims{
		Username: actor.Username,
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   actor.ID,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return IssuedToken{}, err
	}

	return IssuedToken{
		Value:     signed,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(expiresAt.Sub(now).Seconds()),
	}, nil
}

// ValidateToken ensures the JWT is well formed and returns the actor and expiry it names.
func (i *TokenIssuer) ValidateToken(tokenString string) (Actor, time.Time, error) {
	claims := &ActorClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Actor{}, time.Time{}, err
	}
	if claims.Subject == "" {
		return Actor{}, time.Time{}, errMissingSubjectClaim
	}
	if claims.Role == "" {
		return Actor{}, time.Time{}, errMissingRoleClaim
	}
	return Actor{
		ID:       claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}, claims.ExpiresAt.Time, nil
}
