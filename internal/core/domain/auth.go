package domain

import "time"

// AuthContext identifies the owner behind a request
type AuthContext struct {
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenClaims represents the JWT token payload.
// Subject is the owner id.
type TokenClaims struct {
	Subject   string `json:"sub"`
	Name      string `json:"name,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// NewTokenClaims builds claims valid for ttl from now
func NewTokenClaims(ownerID, name string, ttl time.Duration) *TokenClaims {
	now := time.Now()
	return &TokenClaims{
		Subject:   ownerID,
		Name:      name,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// AuthContext converts verified claims to a request auth context
func (c *TokenClaims) AuthContext() *AuthContext {
	return &AuthContext{
		OwnerID:   c.Subject,
		Name:      c.Name,
		ExpiresAt: time.Unix(c.ExpiresAt, 0),
	}
}
