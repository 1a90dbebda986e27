package auth

import (
	"strings"

	"github.com/Abraxas-365/repohub/pkg/iam"
	"github.com/Abraxas-365/repohub/pkg/iam/scopes"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// LocalsKey is the fiber locals key holding *kernel.AuthContext
const LocalsKey = "auth"

// TokenMiddleware authenticates requests with JWT access tokens
type TokenMiddleware struct {
	tokenService TokenService
}

// NewAuthMiddleware creates the middleware
func NewAuthMiddleware(tokenService TokenService) *TokenMiddleware {
	return &TokenMiddleware{
		tokenService: tokenService,
	}
}

// Authenticate validates the bearer token (or access_token cookie) and
// attaches the caller's AuthContext to the request
func (am *TokenMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies("access_token")
		}
		if token == "" {
			return iam.ErrUnauthorized()
		}

		claims, err := am.tokenService.ValidateAccessToken(token)
		if err != nil {
			return err
		}

		ac := claims.AuthContext()
		ac.Scopes = scopes.Expand(ac.Scopes)

		c.Locals(LocalsKey, ac)
		c.SetUserContext(kernel.WithAuth(c.UserContext(), ac))

		return c.Next()
	}
}

// RequireScope rejects authenticated callers lacking scope
func (am *TokenMiddleware) RequireScope(scope string) fiber.Handler {
	return RequireScope(scope)
}

// RequireScope rejects authenticated callers lacking scope
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, ok := FromFiber(c)
		if !ok {
			return iam.ErrUnauthorized()
		}
		if !ac.HasScope(scope) {
			return iam.ErrMissingScope(scope)
		}
		return c.Next()
	}
}

// FromFiber returns the AuthContext Authenticate attached
func FromFiber(c *fiber.Ctx) (*kernel.AuthContext, bool) {
	ac, ok := c.Locals(LocalsKey).(*kernel.AuthContext)
	return ac, ok && ac.IsValid()
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
