package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

// rolePrecedence lists the token roles from most to least privileged.
var rolePrecedence = []domain.Role{domain.RoleAdmin, domain.RoleCollaborator, domain.RoleUser}

// Identity is the verified principal behind a request. Guests never get one.
type Identity struct {
	UID    string
	Email  string
	Phone  string
	Locale string
	Roles  []domain.Role

	token *firebaseauth.Token
}

// Token returns the decoded ID token, or nil for identities built outside the middleware.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the token granted role.
func (i *Identity) HasRole(role domain.Role) bool {
	if i == nil {
		return false
	}
	for _, held := range i.Roles {
		if held == role {
			return true
		}
	}
	return false
}

// Role is the most privileged role the token grants. An identity without a recognised role
// is treated as a plain user.
func (i *Identity) Role() domain.Role {
	for _, role := range rolePrecedence {
		if i.HasRole(role) {
			return role
		}
	}
	return domain.RoleUser
}

// ParseRole maps a claim value onto a token role. Anonymous is never accepted from a token.
func ParseRole(raw string) (domain.Role, bool) {
	role := domain.Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range rolePrecedence {
		if role == known {
			return role, true
		}
	}
	return "", false
}

type contextKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext returns the identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
