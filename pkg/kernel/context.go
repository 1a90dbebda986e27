package kernel

import "context"

// AuthContext is the authenticated principal attached to every request
type AuthContext struct {
	UserID   *UserID  `json:"user_id"`
	TenantID TenantID `json:"tenant_id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Scopes   []string `json:"scopes"`
}

// IsValid reports whether the context identifies a user inside a tenant
func (ac *AuthContext) IsValid() bool {
	return ac != nil && ac.UserID != nil && !ac.UserID.IsEmpty() && !ac.TenantID.IsEmpty()
}

// OwnerID is the identity used for ownership checks on owned resources
func (ac *AuthContext) OwnerID() OwnerID {
	if !ac.IsValid() {
		return ""
	}
	return NewOwnerID(ac.TenantID, *ac.UserID)
}

// HasScope checks for an exact scope, "*" or a "prefix:*" wildcard
func (ac *AuthContext) HasScope(scope string) bool {
	for _, s := range ac.Scopes {
		if s == scope || s == "*" {
			return true
		}
		if len(s) > 2 && s[len(s)-2:] == ":*" {
			prefix := s[:len(s)-2]
			if len(scope) > len(prefix) && scope[:len(prefix)] == prefix && scope[len(prefix)] == ':' {
				return true
			}
		}
	}
	return false
}

type ContextKey string

const (
	// AuthContextKey stores *AuthContext in context.Context and fiber locals
	AuthContextKey ContextKey = "auth_context"

	// RequestIDKey stores the request id
	RequestIDKey ContextKey = "request_id"
)

// WithAuth returns a copy of ctx carrying ac
func WithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}

// AuthFromContext extracts the AuthContext placed by WithAuth
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return ac, ok && ac != nil
}
