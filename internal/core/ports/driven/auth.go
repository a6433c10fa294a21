package driven

import "github.com/custodia-labs/tutor-core/internal/core/domain"

// TokenVerifier handles bearer token cryptography.
// Issuance is only used by tooling; requests are verified.
type TokenVerifier interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
