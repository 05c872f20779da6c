package services

import (
	"fmt"
	"strings"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

// Caller is the explicit request identity handed to every service operation.
type Caller struct {
	UserID string
	Role   domain.Role
	IP     string
	Email  string
	Phone  string
}

// AnonymousCaller builds the identity for an unauthenticated request.
func AnonymousCaller(ip string) Caller {
	return Caller{Role: domain.RoleAnonymous, IP: strings.TrimSpace(ip)}
}

// Authenticated reports whether the caller carries a verified principal.
func (c Caller) Authenticated() bool {
	return strings.TrimSpace(c.UserID) != "" && c.Role != "" && c.Role != domain.RoleAnonymous
}

// Has reports whether the caller holds any of the roles.
func (c Caller) Has(roles ...domain.Role) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// Authorize fails with ErrUnauthorized unless the caller holds one of the roles.
func Authorize(caller Caller, roles ...domain.Role) error {
	if caller.Has(roles...) {
		if caller.Role == domain.RoleAnonymous || caller.Authenticated() {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q not permitted", ErrUnauthorized, caller.Role)
}

// AuthorizeSelf lets an authenticated user acting on their own resource through, in addition
// to the listed roles.
func AuthorizeSelf(caller Caller, ownerID string, roles ...domain.Role) error {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID != "" && caller.Authenticated() && caller.Role == domain.RoleUser && caller.UserID == ownerID {
		return nil
	}
	return Authorize(caller, roles...)
}
