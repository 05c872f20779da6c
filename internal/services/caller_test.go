package services

import (
	"errors"
	"testing"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

func TestAuthorize(t *testing.T) {
	cases := []struct {
		name   string
		caller Caller
		roles  []domain.Role
		ok     bool
	}{
		{name: "admin", caller: adminCaller(), roles: []domain.Role{domain.RoleAdmin}, ok: true},
		{name: "wrong role", caller: userCaller("u"), roles: []domain.Role{domain.RoleAdmin}},
		{name: "anonymous allowed", caller: AnonymousCaller("1.2.3.4"), roles: []domain.Role{domain.RoleAnonymous}, ok: true},
		{name: "role without principal", caller: Caller{Role: domain.RoleAdmin}, roles: []domain.Role{domain.RoleAdmin}},
		{name: "no roles", caller: adminCaller()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.caller, tc.roles...)
			if tc.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestAuthorizeSelf(t *testing.T) {
	if err := AuthorizeSelf(userCaller("u1"), "u1", domain.RoleAdmin); err != nil {
		t.Fatalf("expected owner to pass, got %v", err)
	}
	if err := AuthorizeSelf(userCaller("u1"), "u2", domain.RoleAdmin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for other user, got %v", err)
	}
	if err := AuthorizeSelf(collaboratorCaller("u1"), "u1", domain.RoleAdmin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected collaborators not to pass the self check, got %v", err)
	}
	if err := AuthorizeSelf(adminCaller(), "u1", domain.RoleAdmin); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
}
