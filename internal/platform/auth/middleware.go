package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
)

const (
	defaultRoleClaim = "role"
	localeClaim      = "locale"
	emailClaim       = "email"
	phoneClaim       = "phone_number"
)

var (
	// ErrTokenExpired is returned by verifiers for an expired ID token.
	ErrTokenExpired = errors.New("auth: id token expired")
	// ErrTokenInvalid is returned by verifiers for a malformed or forged ID token.
	ErrTokenInvalid = errors.New("auth: id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter loads Firebase account records.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// Authenticator turns bearer tokens into request identities.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim reads roles from a custom claim other than "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// NewAuthenticator builds the middleware factory around verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token with 401, and requests
// whose token grants none of roles with 403. No roles means any signed-in caller.
func (a *Authenticator) RequireFirebaseAuth(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "bearer token required")
				return
			}
			identity, ok := a.authenticate(w, r, token)
			if !ok {
				return
			}
			if !grantsAny(identity, roles) {
				writeAuthError(w, r, http.StatusForbidden, "insufficient_role", "caller role may not use this endpoint")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalFirebaseAuth lets requests without an Authorization header through as guests. A
// header that is present must still carry a valid token.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(header)
			if !ok {
				writeAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "bearer token required")
				return
			}
			identity, ok := a.authenticate(w, r, token)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request, raw string) (*Identity, bool) {
	if a == nil || a.verifier == nil {
		writeAuthError(w, r, http.StatusServiceUnavailable, "auth_unavailable", "token verification is not configured")
		return nil, false
	}
	token, err := a.verifier.VerifyIDToken(r.Context(), raw)
	if err != nil {
		code, message := classifyVerifyError(err)
		writeAuthError(w, r, http.StatusUnauthorized, code, message)
		return nil, false
	}
	identity := &Identity{
		UID:    token.UID,
		Email:  stringClaim(token.Claims, emailClaim),
		Phone:  stringClaim(token.Claims, phoneClaim),
		Locale: stringClaim(token.Claims, localeClaim),
		Roles:  rolesFromClaims(token.Claims, a.roleClaim),
		token:  token,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []domain.Role{domain.RoleUser}
	}
	return identity, true
}

func grantsAny(identity *Identity, roles []domain.Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

// rolesFromClaims accepts the role claim as a string, a list, or a {"role": true} map.
// Unknown values are ignored and the result is deduplicated in claim order.
func rolesFromClaims(claims map[string]interface{}, key string) []domain.Role {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]interface{}:
		for _, role := range rolePrecedence {
			if granted, _ := v[string(role)].(bool); granted {
				raw = append(raw, string(role))
			}
		}
	}

	var roles []domain.Role
	for _, s := range raw {
		role, ok := ParseRole(s)
		if !ok || containsRole(roles, role) {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

func containsRole(roles []domain.Role, role domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func stringClaim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func classifyVerifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return "token_expired", "id token expired"
	case firebaseauth.IsIDTokenRevoked(err):
		return "token_revoked", "id token revoked"
	default:
		return "invalid_token", "id token could not be verified"
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="beQuanTri"`)
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
