package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const (
	collaboratorIDPrefix = "col_"
	referralCodeLength   = 8

	eventCollaboratorCreated         = "collaborator.created"
	eventCollaboratorRateUpdated     = "collaborator.commission_rate.updated"
	eventCollaboratorRoleGrantFailed = "collaborator.role_grant.failed"
)

// CollaboratorServiceDeps bundles collaborators required to construct the directory.
type CollaboratorServiceDeps struct {
	Collaborators repositories.CollaboratorRepository
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	ReferralCodes func() string
	Roles         RoleGranter
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type collaboratorService struct {
	repo          repositories.CollaboratorRepository
	uow           repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	referralCodes func() string
	roles         RoleGranter
	logger        func(context.Context, string, map[string]any)
}

// NewCollaboratorService wires the collaborator directory and load balancer.
func NewCollaboratorService(deps CollaboratorServiceDeps) (CollaboratorService, error) {
	if deps.Collaborators == nil {
		return nil, errors.New("collaborator service: collaborator repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("collaborator service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	codes := deps.ReferralCodes
	if codes == nil {
		codes = NewReferralCode
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &collaboratorService{
		repo:          deps.Collaborators,
		uow:           deps.UnitOfWork,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		referralCodes: codes,
		roles:         deps.Roles,
		logger:        logger,
	}, nil
}

// NewReferralCode returns the first eight characters of a random UUID, uppercased.
func NewReferralCode() string {
	return strings.ToUpper(uuid.NewString()[:referralCodeLength])
}

func (s *collaboratorService) FindByReferralCode(ctx context.Context, code string) (Collaborator, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Collaborator{}, fmt.Errorf("%w: referral code is empty", ErrInvalidReferralCode)
	}
	collaborator, err := s.repo.FindByReferralCode(ctx, code)
	if err != nil {
		return Collaborator{}, mapRepositoryError(err, ErrInvalidReferralCode)
	}
	return collaborator, nil
}

// SelectLeastLoaded picks the collaborator with the fewest handled orders. Ties go to the
// earliest registration, then the smallest id.
func (s *collaboratorService) SelectLeastLoaded(ctx context.Context) (Collaborator, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return Collaborator{}, mapRepositoryError(err, ErrNoAvailableCollaborator)
	}
	if len(all) == 0 {
		return Collaborator{}, ErrNoAvailableCollaborator
	}
	best := all[0]
	for _, candidate := range all[1:] {
		if lessLoaded(candidate, best) {
			best = candidate
		}
	}
	return best, nil
}

func lessLoaded(a, b Collaborator) bool {
	if a.TotalOrdersHandled != b.TotalOrdersHandled {
		return a.TotalOrdersHandled < b.TotalOrdersHandled
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *collaboratorService) Create(ctx context.Context, caller Caller, cmd CreateCollaboratorCommand) (Collaborator, error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return Collaborator{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Collaborator{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := validateCommissionRate(cmd.CommissionRate); err != nil {
		return Collaborator{}, err
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.ReferralCode))
	if code == "" {
		code = s.referralCodes()
	}

	now := s.clock()
	collaborator := Collaborator{
		ID:                    collaboratorIDPrefix + s.newID(),
		UserID:                userID,
		Email:                 strings.TrimSpace(cmd.Email),
		ReferralCode:          code,
		CommissionRate:        cmd.CommissionRate,
		TotalCommissionEarned: decimal.Zero,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.FindByUserID(txCtx, userID); err == nil {
			return fmt.Errorf("%w: user %s is already a collaborator", ErrCollaboratorConflict, userID)
		} else if !repositories.IsNotFound(err) {
			return mapRepositoryError(err, nil)
		}
		if _, err := s.repo.FindByReferralCode(txCtx, code); err == nil {
			return fmt.Errorf("%w: referral code %s is taken", ErrCollaboratorConflict, code)
		} else if !repositories.IsNotFound(err) {
			return mapRepositoryError(err, nil)
		}
		if err := s.repo.Insert(txCtx, collaborator); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsConflict() {
				return fmt.Errorf("%w: %v", ErrCollaboratorConflict, err)
			}
			return mapRepositoryError(err, nil)
		}
		return nil
	})
	if err != nil {
		return Collaborator{}, err
	}

	s.logger(ctx, eventCollaboratorCreated, map[string]any{"collaboratorId": collaborator.ID, "userId": userID, "actorId": caller.UserID})
	if s.roles != nil {
		// The record is authoritative; a failed claim update only delays the role until retried.
		if err := s.roles.GrantRole(ctx, userID, string(domain.RoleCollaborator)); err != nil {
			s.logger(ctx, eventCollaboratorRoleGrantFailed, map[string]any{"collaboratorId": collaborator.ID, "userId": userID, "error": err.Error()})
		}
	}
	return collaborator, nil
}

func (s *collaboratorService) Get(ctx context.Context, caller Caller, collaboratorID string) (Collaborator, error) {
	collaboratorID = strings.TrimSpace(collaboratorID)
	if collaboratorID == "" {
		return Collaborator{}, fmt.Errorf("%w: collaborator id is required", ErrInvalidInput)
	}
	if caller.Role == domain.RoleCollaborator {
		self, err := resolveSelfCollaborator(ctx, s.repo, caller)
		if err != nil {
			return Collaborator{}, err
		}
		if self.ID != collaboratorID {
			return Collaborator{}, fmt.Errorf("%w: collaborators may only read their own record", ErrUnauthorized)
		}
		return self, nil
	}
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return Collaborator{}, err
	}
	collaborator, err := s.repo.FindByID(ctx, collaboratorID)
	if err != nil {
		return Collaborator{}, mapRepositoryError(err, ErrCollaboratorNotFound)
	}
	return collaborator, nil
}

func (s *collaboratorService) GetByUser(ctx context.Context, caller Caller, userID string) (Collaborator, error) {
	userID = strings.TrimSpace(userID)
	if !(caller.Role == domain.RoleCollaborator && caller.UserID == userID) {
		if err := Authorize(caller, domain.RoleAdmin); err != nil {
			return Collaborator{}, err
		}
	}
	collaborator, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return Collaborator{}, mapRepositoryError(err, ErrCollaboratorNotFound)
	}
	return collaborator, nil
}

func (s *collaboratorService) List(ctx context.Context, caller Caller, pager Pagination) (domain.CursorPage[Collaborator], error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return domain.CursorPage[Collaborator]{}, err
	}
	page, err := s.repo.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Collaborator]{}, mapRepositoryError(err, nil)
	}
	return page, nil
}

func (s *collaboratorService) UpdateCommissionRate(ctx context.Context, caller Caller, collaboratorID string, rate decimal.Decimal) (Collaborator, error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return Collaborator{}, err
	}
	if err := validateCommissionRate(rate); err != nil {
		return Collaborator{}, err
	}

	var updated Collaborator
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		collaborator, err := s.repo.FindByID(txCtx, strings.TrimSpace(collaboratorID))
		if err != nil {
			return mapRepositoryError(err, ErrCollaboratorNotFound)
		}
		collaborator.CommissionRate = rate
		collaborator.UpdatedAt = s.clock()
		if err := s.repo.Update(txCtx, collaborator); err != nil {
			return mapRepositoryError(err, ErrCollaboratorNotFound)
		}
		updated = collaborator
		return nil
	})
	if err != nil {
		return Collaborator{}, err
	}

	s.logger(ctx, eventCollaboratorRateUpdated, map[string]any{"collaboratorId": updated.ID, "rate": rate.String(), "actorId": caller.UserID})
	return updated, nil
}

func validateCommissionRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: commission rate must be within [0, 1]", ErrInvalidInput)
	}
	return nil
}

// resolveSelfCollaborator loads the collaborator record owned by a collaborator caller.
func resolveSelfCollaborator(ctx context.Context, repo repositories.CollaboratorRepository, caller Caller) (Collaborator, error) {
	if caller.Role != domain.RoleCollaborator || !caller.Authenticated() {
		return Collaborator{}, fmt.Errorf("%w: caller is not a collaborator", ErrUnauthorized)
	}
	collaborator, err := repo.FindByUserID(ctx, caller.UserID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Collaborator{}, fmt.Errorf("%w: no collaborator record for user %s", ErrUnauthorized, caller.UserID)
		}
		return Collaborator{}, mapRepositoryError(err, nil)
	}
	return collaborator, nil
}
