package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const commissionIDPrefix = "com_"

// CommissionLedgerDeps bundles collaborators required to construct the commission ledger.
type CommissionLedgerDeps struct {
	Commissions   repositories.CommissionRepository
	Collaborators repositories.CollaboratorRepository
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
}

type commissionLedger struct {
	commissions   repositories.CommissionRepository
	collaborators repositories.CollaboratorRepository
	uow           repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
}

// NewCommissionLedger wires the commission ledger.
func NewCommissionLedger(deps CommissionLedgerDeps) (CommissionLedger, error) {
	if deps.Commissions == nil || deps.Collaborators == nil {
		return nil, errors.New("commission ledger: repositories are required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("commission ledger: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &commissionLedger{
		commissions:   deps.Commissions,
		collaborators: deps.Collaborators,
		uow:           deps.UnitOfWork,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
	}, nil
}

// Create records the commission for a new order and credits the collaborator's earned total.
func (l *commissionLedger) Create(ctx context.Context, order Order, collaborator Collaborator, amount decimal.Decimal) (Commission, error) {
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(collaborator.ID) == "" {
		return Commission{}, fmt.Errorf("%w: order and collaborator are required", ErrInvalidInput)
	}
	if amount.IsNegative() {
		return Commission{}, fmt.Errorf("%w: commission amount must not be negative", ErrInvalidInput)
	}

	now := l.clock()
	commission := Commission{
		ID:             commissionIDPrefix + l.newID(),
		OrderID:        order.ID,
		CollaboratorID: collaborator.ID,
		Amount:         domain.RoundMoney(amount),
		Status:         domain.OrderStatusOpen,
		EarnedAt:       now,
		UpdatedAt:      now,
	}

	err := l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := l.commissions.FindByOrderID(txCtx, order.ID); err == nil {
			return fmt.Errorf("%w: order %s already has a commission", ErrConflict, order.ID)
		} else if !repositories.IsNotFound(err) {
			return mapRepositoryError(err, nil)
		}
		if err := l.commissions.Insert(txCtx, commission); err != nil {
			return mapRepositoryError(err, nil)
		}
		current, err := l.collaborators.FindByID(txCtx, collaborator.ID)
		if err != nil {
			return mapRepositoryError(err, ErrCollaboratorNotFound)
		}
		current.TotalCommissionEarned = current.TotalCommissionEarned.Add(commission.Amount)
		current.UpdatedAt = now
		return mapRepositoryError(l.collaborators.Update(txCtx, current), ErrCollaboratorNotFound)
	})
	if err != nil {
		return Commission{}, err
	}
	return commission, nil
}

func (l *commissionLedger) SyncStatus(ctx context.Context, orderID string, status OrderStatus) (Commission, error) {
	if !status.Valid() {
		return Commission{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	var updated Commission
	err := l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		commission, err := l.commissions.FindByOrderID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrCommissionNotFound)
		}
		commission.Status = status
		commission.UpdatedAt = l.clock()
		if err := l.commissions.Update(txCtx, commission); err != nil {
			return mapRepositoryError(err, ErrCommissionNotFound)
		}
		updated = commission
		return nil
	})
	if err != nil {
		return Commission{}, err
	}
	return updated, nil
}

// RecordCompletion completes the commission and credits the collaborator's counters again with
// the amount plus one handled order.
func (l *commissionLedger) RecordCompletion(ctx context.Context, orderID string) (Commission, error) {
	var completed Commission
	err := l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		commission, err := l.SyncStatus(txCtx, orderID, domain.OrderStatusComplete)
		if err != nil {
			return err
		}
		collaborator, err := l.collaborators.FindByID(txCtx, commission.CollaboratorID)
		if err != nil {
			return mapRepositoryError(err, ErrCollaboratorNotFound)
		}
		collaborator.TotalCommissionEarned = collaborator.TotalCommissionEarned.Add(commission.Amount)
		collaborator.TotalOrdersHandled++
		collaborator.UpdatedAt = l.clock()
		if err := l.collaborators.Update(txCtx, collaborator); err != nil {
			return mapRepositoryError(err, ErrCollaboratorNotFound)
		}
		completed = commission
		return nil
	})
	if err != nil {
		return Commission{}, err
	}
	return completed, nil
}

func (l *commissionLedger) ListByCollaborator(ctx context.Context, caller Caller, collaboratorID string, pager Pagination) (domain.CursorPage[Commission], error) {
	collaboratorID = strings.TrimSpace(collaboratorID)
	if caller.Role == domain.RoleCollaborator {
		self, err := resolveSelfCollaborator(ctx, l.collaborators, caller)
		if err != nil {
			return domain.CursorPage[Commission]{}, err
		}
		if self.ID != collaboratorID {
			return domain.CursorPage[Commission]{}, fmt.Errorf("%w: collaborators may only list their own commissions", ErrUnauthorized)
		}
	} else if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return domain.CursorPage[Commission]{}, err
	}

	page, err := l.commissions.ListByCollaborator(ctx, collaboratorID, pager)
	if err != nil {
		return domain.CursorPage[Commission]{}, mapRepositoryError(err, nil)
	}
	return page, nil
}
