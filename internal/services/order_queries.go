package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

func (s *orderService) Get(ctx context.Context, caller Caller, orderID string) (OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	switch caller.Role {
	case domain.RoleAdmin:
	case domain.RoleCollaborator:
		self, err := resolveSelfCollaborator(ctx, s.collaborators, caller)
		if err != nil {
			return OrderView{}, err
		}
		if self.ID != order.CollaboratorID {
			return OrderView{}, fmt.Errorf("%w: order is assigned to another collaborator", ErrUnauthorized)
		}
	case domain.RoleUser:
		if !caller.Authenticated() || order.UserID != caller.UserID {
			return OrderView{}, fmt.Errorf("%w: order belongs to another customer", ErrUnauthorized)
		}
	default:
		return OrderView{}, fmt.Errorf("%w: role %q not permitted", ErrUnauthorized, caller.Role)
	}
	return s.project(ctx, order, caller), nil
}

func (s *orderService) ListByUser(ctx context.Context, caller Caller, userID string, pager Pagination) (domain.CursorPage[OrderView], error) {
	userID = strings.TrimSpace(userID)
	if err := AuthorizeSelf(caller, userID, domain.RoleAdmin); err != nil {
		return domain.CursorPage[OrderView]{}, err
	}
	if caller.Role == domain.RoleUser {
		if _, err := s.MapAnonymousOrders(ctx, caller); err != nil {
			return domain.CursorPage[OrderView]{}, err
		}
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[OrderView]{}, mapRepositoryError(err, nil)
	}
	return s.projectPage(ctx, page, caller), nil
}

func (s *orderService) ListByCollaborator(ctx context.Context, caller Caller, collaboratorID string, pager Pagination) (domain.CursorPage[OrderView], error) {
	collaboratorID = strings.TrimSpace(collaboratorID)
	if caller.Role == domain.RoleCollaborator {
		self, err := resolveSelfCollaborator(ctx, s.collaborators, caller)
		if err != nil {
			return domain.CursorPage[OrderView]{}, err
		}
		if self.ID != collaboratorID {
			return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: collaborators may only list their own orders", ErrUnauthorized)
		}
	} else if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return domain.CursorPage[OrderView]{}, err
	}
	page, err := s.orders.ListByCollaborator(ctx, collaboratorID, pager)
	if err != nil {
		return domain.CursorPage[OrderView]{}, mapRepositoryError(err, nil)
	}
	return s.projectPage(ctx, page, caller), nil
}

func (s *orderService) ListAll(ctx context.Context, caller Caller, filter domain.OrderFilter, pager Pagination) (domain.CursorPage[OrderView], error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return domain.CursorPage[OrderView]{}, err
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *filter.Status)
	}
	page, err := s.orders.List(ctx, filter, pager)
	if err != nil {
		return domain.CursorPage[OrderView]{}, mapRepositoryError(err, nil)
	}
	return s.projectPage(ctx, page, caller), nil
}

// AnonymousHistory lists guest orders whose contact matches both email and phone.
func (s *orderService) AnonymousHistory(ctx context.Context, email, phone string) ([]OrderView, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	phone = strings.TrimSpace(phone)
	if email == "" || phone == "" {
		return nil, fmt.Errorf("%w: email and phone are required", ErrInvalidInput)
	}
	guests, err := s.anonymous.FindByEmailAndPhone(ctx, email, phone)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound)
	}
	if len(guests) == 0 {
		return nil, fmt.Errorf("%w: no orders for the contact details", ErrOrderNotFound)
	}
	ids := make([]string, 0, len(guests))
	byID := make(map[string]domain.AnonymousUser, len(guests))
	for _, guest := range guests {
		ids = append(ids, guest.ID)
		byID[guest.ID] = guest
	}
	orders, err := s.orders.ListByAnonymousUsers(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: no orders for the contact details", ErrOrderNotFound)
	}

	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		guest := byID[order.AnonymousUserID]
		views = append(views, ProjectOrder(order, OrderParties{AnonymousUser: &guest}, domain.RoleAnonymous))
	}
	return views, nil
}

// ServiceDates reports the first item of each order with its expiry measured from the order date.
func (s *orderService) ServiceDates(ctx context.Context, caller Caller, userID string, pager Pagination) (domain.CursorPage[ServiceDate], error) {
	userID = strings.TrimSpace(userID)
	if err := AuthorizeSelf(caller, userID, domain.RoleAdmin); err != nil {
		return domain.CursorPage[ServiceDate]{}, err
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[ServiceDate]{}, mapRepositoryError(err, nil)
	}
	out := domain.CursorPage[ServiceDate]{
		Items:         make([]ServiceDate, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		if len(order.Items) == 0 {
			continue
		}
		first := order.Items[0]
		out.Items = append(out.Items, ServiceDate{
			OrderID:     order.ID,
			ProductCode: first.ProductCode,
			ProductName: first.ProductName,
			Status:      order.Status,
			OrderDate:   order.OrderDate,
			ExpiryDate:  domain.AddDays(order.OrderDate, first.SubscriptionDays),
		})
	}
	return out, nil
}

func (s *orderService) MapAnonymousOrders(ctx context.Context, caller Caller) (int, error) {
	if !caller.Authenticated() {
		return 0, fmt.Errorf("%w: mapping requires an authenticated caller", ErrUnauthorized)
	}
	var mapped int
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		mapped, err = s.mapAnonymousOrders(txCtx, caller)
		return err
	})
	if err != nil {
		return 0, err
	}
	return mapped, nil
}

// mapAnonymousOrders re-parents every guest order whose guest matches the caller's IP, email or
// phone. It must run inside a transaction.
func (s *orderService) mapAnonymousOrders(ctx context.Context, caller Caller) (int, error) {
	ip := strings.TrimSpace(caller.IP)
	email := strings.ToLower(strings.TrimSpace(caller.Email))
	phone := strings.TrimSpace(caller.Phone)
	if ip == "" && email == "" && phone == "" {
		return 0, nil
	}
	guests, err := s.anonymous.FindMatchingAny(ctx, ip, email, phone)
	if err != nil {
		return 0, mapRepositoryError(err, nil)
	}
	if len(guests) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(guests))
	for _, guest := range guests {
		ids = append(ids, guest.ID)
	}
	orders, err := s.orders.ListByAnonymousUsers(ctx, ids)
	if err != nil {
		return 0, mapRepositoryError(err, nil)
	}

	now := s.clock()
	for _, order := range orders {
		order.UserID = caller.UserID
		order.AnonymousUserID = ""
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return 0, mapRepositoryError(err, ErrOrderNotFound)
		}
	}
	if len(orders) > 0 {
		s.logger(ctx, orderEventMapped, map[string]any{"userId": caller.UserID, "mapped": len(orders)})
	}
	return len(orders), nil
}

func (s *orderService) project(ctx context.Context, order Order, caller Caller) OrderView {
	return ProjectOrder(order, s.loadParties(ctx, order), projectionRole(caller))
}

func (s *orderService) projectPage(ctx context.Context, page domain.CursorPage[Order], caller Caller) domain.CursorPage[OrderView] {
	out := domain.CursorPage[OrderView]{
		Items:         make([]OrderView, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		out.Items = append(out.Items, s.project(ctx, order, caller))
	}
	return out
}

// loadParties fetches the related records for a view. Missing records leave their section with
// identifiers only.
func (s *orderService) loadParties(ctx context.Context, order Order) OrderParties {
	var parties OrderParties
	if order.UserID != "" {
		if user, err := s.users.FindByID(ctx, order.UserID); err == nil {
			parties.User = &user
		} else if !repositories.IsNotFound(err) {
			s.logger(ctx, "order.parties.user_lookup_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	if order.AnonymousUserID != "" {
		if guest, err := s.anonymous.FindByID(ctx, order.AnonymousUserID); err == nil {
			parties.AnonymousUser = &guest
		}
	}
	if order.CollaboratorID != "" {
		if collaborator, err := s.collaborators.FindByID(ctx, order.CollaboratorID); err == nil {
			parties.Collaborator = &collaborator
		} else if !repositories.IsNotFound(err) {
			s.logger(ctx, "order.parties.collaborator_lookup_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	return parties
}
