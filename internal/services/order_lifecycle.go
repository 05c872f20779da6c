package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// Process moves an order assigned to the acting collaborator into progress.
func (s *orderService) Process(ctx context.Context, caller Caller, orderID, collaboratorID string) (OrderView, error) {
	if err := Authorize(caller, domain.RoleCollaborator, domain.RoleAdmin); err != nil {
		return OrderView{}, err
	}

	var (
		order    Order
		previous OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.loadAssignedOrder(txCtx, caller, orderID, collaboratorID)
		if err != nil {
			return err
		}
		previous = order.Status
		if !domain.CanTransition(order.Status, domain.OrderStatusInProgress) {
			return fmt.Errorf("%w: cannot process order in status %s", ErrInvalidStatus, order.Status)
		}
		order.Status = domain.OrderStatusInProgress
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		_, err = s.commissions.SyncStatus(txCtx, order.ID, domain.OrderStatusInProgress)
		return err
	})
	if err != nil {
		return OrderView{}, err
	}

	s.publish(ctx, orderEventStatusChanged, previous, order, caller.UserID)
	return s.project(ctx, order, caller), nil
}

// Complete finishes an in-progress order, starting the subscription period and crediting the
// collaborator and the customer.
func (s *orderService) Complete(ctx context.Context, caller Caller, orderID, collaboratorID string) (OrderView, error) {
	if err := Authorize(caller, domain.RoleCollaborator, domain.RoleAdmin); err != nil {
		return OrderView{}, err
	}

	var order Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.loadAssignedOrder(txCtx, caller, orderID, collaboratorID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusInProgress {
			return fmt.Errorf("%w: cannot complete order in status %s", ErrInvalidStatus, order.Status)
		}

		now := s.clock()
		start := now
		order.StartDate = &start
		for i := range order.Items {
			order.Items[i].ExpiryDate = domain.AddDays(now, order.Items[i].SubscriptionDays)
		}
		if n := len(order.Items); n > 0 {
			end := order.Items[n-1].ExpiryDate
			order.EndDate = &end
		}
		order.Status = domain.OrderStatusComplete
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}

		if _, err := s.commissions.RecordCompletion(txCtx, order.ID); err != nil {
			return err
		}
		if order.UserID != "" {
			return s.creditUser(txCtx, order.UserID, order.Total)
		}
		return nil
	})
	if err != nil {
		return OrderView{}, err
	}

	s.publish(ctx, orderEventStatusChanged, domain.OrderStatusInProgress, order, caller.UserID)
	return s.project(ctx, order, caller), nil
}

// Cancel cancels an open order, or an in-progress order younger than the cancel window, and
// returns its stock.
func (s *orderService) Cancel(ctx context.Context, caller Caller, orderID string) (OrderView, error) {
	if caller.Role == domain.RoleCollaborator {
		return OrderView{}, fmt.Errorf("%w: collaborators cannot cancel orders", ErrUnauthorized)
	}
	if err := Authorize(caller, domain.RoleAdmin, domain.RoleUser); err != nil {
		return OrderView{}, err
	}

	var (
		order    Order
		previous OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.loadOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if caller.Role == domain.RoleUser && order.UserID != caller.UserID {
			return fmt.Errorf("%w: order belongs to another customer", ErrUnauthorized)
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: cannot cancel order in status %s", ErrInvalidStatus, order.Status)
		}
		now := s.clock()
		if order.Status == domain.OrderStatusInProgress && now.Sub(order.OrderDate) > s.cancelWindow {
			return fmt.Errorf("%w: order placed at %s", ErrCancelTimeLimitExceeded, order.OrderDate.Format("2006-01-02T15:04:05Z07:00"))
		}

		lines := make([]StockLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, StockLine{ProductID: item.ProductID, ProductCode: item.ProductCode, Quantity: item.Quantity})
		}
		if err := s.stock.Release(txCtx, lines); err != nil {
			return err
		}

		previous = order.Status
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		_, err = s.commissions.SyncStatus(txCtx, order.ID, domain.OrderStatusCancelled)
		return err
	})
	if err != nil {
		return OrderView{}, err
	}

	s.publish(ctx, orderEventStatusChanged, previous, order, caller.UserID)
	return s.project(ctx, order, caller), nil
}

// loadAssignedOrder loads the order and checks that the acting collaborator is the assignee.
// Collaborator callers act as their own record; admins act as the requested collaborator, or
// the assignee when none is given.
func (s *orderService) loadAssignedOrder(ctx context.Context, caller Caller, orderID, collaboratorID string) (Order, error) {
	collaboratorID = strings.TrimSpace(collaboratorID)
	effective := collaboratorID
	if caller.Role == domain.RoleCollaborator {
		self, err := resolveSelfCollaborator(ctx, s.collaborators, caller)
		if err != nil {
			return Order{}, err
		}
		if collaboratorID != "" && collaboratorID != self.ID {
			return Order{}, fmt.Errorf("%w: collaborators act only on their own behalf", ErrUnauthorized)
		}
		effective = self.ID
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if effective == "" {
		effective = order.CollaboratorID
	}
	if effective != order.CollaboratorID {
		return Order{}, fmt.Errorf("%w: order is assigned to another collaborator", ErrUnauthorized)
	}
	return order, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderService) creditUser(ctx context.Context, userID string, amount decimal.Decimal) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return mapRepositoryError(err, nil)
		}
		user = User{ID: userID, TotalSpent: decimal.Zero, CreatedAt: s.clock()}
	}
	user.TotalSpent = user.TotalSpent.Add(amount)
	user.UpdatedAt = s.clock()
	return mapRepositoryError(s.users.Save(ctx, user), nil)
}
