package domain

import (
	"testing"
	"time"
)

func TestNewTokenClaims(t *testing.T) {
	claims := NewTokenClaims("s1", "Sam", time.Hour)

	if claims.Subject != "s1" {
		t.Errorf("expected subject s1, got %s", claims.Subject)
	}
	if claims.ExpiresAt-claims.IssuedAt != int64(time.Hour/time.Second) {
		t.Errorf("expected one hour validity, got %ds", claims.ExpiresAt-claims.IssuedAt)
	}
}

func TestTokenClaimsAuthContext(t *testing.T) {
	claims := &TokenClaims{Subject: "owner-7", Name: "Ada", ExpiresAt: 1700000000}

	ac := claims.AuthContext()

	if ac.OwnerID != "owner-7" {
		t.Errorf("expected owner-7, got %s", ac.OwnerID)
	}
	if ac.Name != "Ada" {
		t.Errorf("expected Ada, got %s", ac.Name)
	}
	if !ac.ExpiresAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected expiry %v", ac.ExpiresAt)
	}
}
