package auth

import (
	"net/http"
	"time"

	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
)

// TokenClaims represents JWT claims
type TokenClaims struct {
	UserID    kernel.UserID   `json:"user_id"`
	TenantID  kernel.TenantID `json:"tenant_id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Scopes    []string        `json:"scopes"`
	IssuedAt  time.Time       `json:"iat"`
	ExpiresAt time.Time       `json:"exp"`
}

// AuthContext converts validated claims into the request principal.
func (tc *TokenClaims) AuthContext() *kernel.AuthContext {
	uid := tc.UserID
	return &kernel.AuthContext{
		UserID:   &uid,
		TenantID: tc.TenantID,
		Email:    tc.Email,
		Name:     tc.Name,
		Scopes:   tc.Scopes,
	}
}

// TokenService defines the contract for JWT token management
type TokenService interface {
	GenerateAccessToken(userID kernel.UserID, tenantID kernel.TenantID, claims map[string]any) (string, error)
	ValidateAccessToken(token string) (*TokenClaims, error)
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	CodeTokenGenerationFailed = ErrRegistry.Register("TOKEN_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to generate token")
	CodeTokenValidationFailed = ErrRegistry.Register("TOKEN_VALIDATION_FAILED", errx.TypeAuthorization, http.StatusUnauthorized, "Token validation failed")
)

func ErrTokenGenerationFailed() *errx.Error {
	return ErrRegistry.New(CodeTokenGenerationFailed)
}

func ErrTokenValidationFailed() *errx.Error {
	return ErrRegistry.New(CodeTokenValidationFailed)
}
