package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users    repositories.UserRepository
	Firebase auth.UserGetter
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users    repositories.UserRepository
	firebase auth.UserGetter
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation. The Firebase
// getter is optional and only enriches newly created profiles.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users:    deps.Users,
		firebase: deps.Firebase,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// EnsureProfile returns the caller's profile, creating it from the identity on first use.
func (s *userService) EnsureProfile(ctx context.Context, caller Caller) (User, error) {
	if !caller.Authenticated() {
		return User{}, fmt.Errorf("%w: profile requires an authenticated caller", ErrUnauthorized)
	}
	user, err := s.users.FindByID(ctx, caller.UserID)
	if err == nil {
		return user, nil
	}
	if !repositories.IsNotFound(err) {
		return User{}, mapRepositoryError(err, nil)
	}

	now := s.clock()
	user = User{
		ID:          caller.UserID,
		Email:       strings.TrimSpace(caller.Email),
		PhoneNumber: strings.TrimSpace(caller.Phone),
		TotalSpent:  decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.firebase != nil {
		if record, ferr := s.firebase.GetUser(ctx, caller.UserID); ferr == nil && record != nil && record.UserInfo != nil {
			user.DisplayName = record.DisplayName
			if user.Email == "" {
				user.Email = record.Email
			}
			if user.PhoneNumber == "" {
				user.PhoneNumber = record.PhoneNumber
			}
		} else if ferr != nil {
			s.logger(ctx, "user.profile.firebase_lookup_failed", map[string]any{"userId": caller.UserID, "error": ferr.Error()})
		}
	}
	if err := s.users.Save(ctx, user); err != nil {
		return User{}, mapRepositoryError(err, nil)
	}
	s.logger(ctx, "user.profile.created", map[string]any{"userId": user.ID})
	return user, nil
}

func (s *userService) GetProfile(ctx context.Context, caller Caller, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if err := AuthorizeSelf(caller, userID, domain.RoleAdmin); err != nil {
		return User{}, err
	}
	if caller.UserID == userID {
		return s.EnsureProfile(ctx, caller)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, mapRepositoryError(err, ErrUserNotFound)
	}
	return user, nil
}
