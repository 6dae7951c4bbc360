package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret-key-for-unit-tests-only"

func TestIssueAndParse(t *testing.T) {
	id := uuid.New()
	tok, err := Issue(testSecret, id, RoleAdmin, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := Parse(testSecret, tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ID != id || !got.IsAdmin() {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestParse_Rejects(t *testing.T) {
	id := uuid.New()
	expired, _ := Issue(testSecret, id, RolePatient, -time.Minute)
	wrongKey, _ := Issue("another-secret", id, RolePatient, time.Minute)
	badRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: "superuser",
	}).SignedString([]byte(testSecret))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()},
		Role:             RolePatient,
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong key", wrongKey},
		{"unknown role", badRole},
		{"no expiry", noExpiry},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(testSecret, tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected invalid token, got %v", err)
			}
		})
	}
}

func TestParse_NoSecret(t *testing.T) {
	tok, _ := Issue(testSecret, uuid.New(), RolePatient, time.Minute)
	if _, err := Parse("", tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection without a secret, got %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("empty context must carry no identity")
	}
	want := Identity{ID: uuid.New(), Role: RolePatient}
	got, ok := FromContext(WithIdentity(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
