package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestGenerateToken(t *testing.T) {
	adapter := NewAdapter(testSecret, "")

	token, err := adapter.GenerateToken(domain.NewTokenClaims("owner-123", "Ada", time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Error("expected non-empty token")
	}

	if _, err := adapter.GenerateToken(&domain.TokenClaims{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without subject, got %v", err)
	}
}

func TestParseToken_ValidToken(t *testing.T) {
	adapter := NewAdapter(testSecret, "tutor")

	original := domain.NewTokenClaims("owner-123", "Ada", time.Hour)
	token, err := adapter.GenerateToken(original)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	claims, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != original.Subject {
		t.Errorf("expected subject %s, got %s", original.Subject, claims.Subject)
	}
	if claims.Name != "Ada" {
		t.Errorf("expected name Ada, got %s", claims.Name)
	}
	if claims.ExpiresAt != original.ExpiresAt {
		t.Errorf("expected exp %d, got %d", original.ExpiresAt, claims.ExpiresAt)
	}
	if got := claims.AuthContext().OwnerID; got != "owner-123" {
		t.Errorf("expected auth context owner owner-123, got %s", got)
	}
}

func TestParseToken_ExpiredToken(t *testing.T) {
	adapter := NewAdapter(testSecret, "")

	claims := &domain.TokenClaims{
		Subject:   "owner-123",
		IssuedAt:  time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}
	token, err := adapter.GenerateToken(claims)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_Rejected(t *testing.T) {
	adapter := NewAdapter(testSecret, "tutor")
	valid := domain.NewTokenClaims("owner-123", "", time.Hour)

	otherSecret, _ := NewAdapter("wrong-secret", "tutor").GenerateToken(valid)
	otherIssuer, _ := NewAdapter(testSecret, "someone-else").GenerateToken(valid)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "owner-123", Issuer: "tutor"})
	noExpiryToken, _ := noExpiry.SignedString([]byte(testSecret))

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "tutor",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noSubjectToken, _ := noSubject.SignedString([]byte(testSecret))

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "owner-123",
		Issuer:    "tutor",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	hs512Token, _ := hs512.SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "invalid.token.here"},
		{"empty", ""},
		{"wrong secret", otherSecret},
		{"wrong issuer", otherIssuer},
		{"no expiry", noExpiryToken},
		{"no subject", noSubjectToken},
		{"other algorithm", hs512Token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := adapter.ParseToken(tt.token); !errors.Is(err, domain.ErrTokenInvalid) {
				t.Errorf("expected ErrTokenInvalid, got %v", err)
			}
		})
	}
}

func BenchmarkParseToken(b *testing.B) {
	adapter := NewAdapter(testSecret, "")
	token, _ := adapter.GenerateToken(domain.NewTokenClaims("owner-123", "", time.Hour))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = adapter.ParseToken(token)
	}
}
