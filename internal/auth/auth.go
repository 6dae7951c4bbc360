package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the caller resolved from a bearer token.
type Identity struct {
	ID   uuid.UUID
	Role Role
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Issue signs an HS256 token for id. It is used by the CLI tools and tests;
// production tokens come from the identity provider sharing the secret.
func Issue(secret string, id uuid.UUID, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies tokenStr and maps its claims to an Identity.
func Parse(secret, tokenStr string) (Identity, error) {
	if secret == "" {
		return Identity{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}
	switch claims.Role {
	case RolePatient, RoleAdmin:
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return Identity{ID: id, Role: claims.Role}, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
