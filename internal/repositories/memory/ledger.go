package memory

import (
	"context"
	"sort"
	"time"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

type collaboratorRepo struct{ s *Store }

func (r collaboratorRepo) Insert(ctx context.Context, collaborator domain.Collaborator) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.collaborators[collaborator.ID]; ok {
			return conflict("collaborators.insert", "collaborator id exists")
		}
		for _, existing := range st.collaborators {
			if existing.ReferralCode == collaborator.ReferralCode {
				return conflict("collaborators.insert", "referral code exists")
			}
			if collaborator.UserID != "" && existing.UserID == collaborator.UserID {
				return conflict("collaborators.insert", "user already registered as collaborator")
			}
		}
		st.collaborators[collaborator.ID] = collaborator
		return nil
	})
}

func (r collaboratorRepo) Update(ctx context.Context, collaborator domain.Collaborator) error {
	return r.s.write(ctx, func(st *state) error {
		existing, ok := st.collaborators[collaborator.ID]
		if !ok {
			return notFound("collaborators.update")
		}
		if existing.ReferralCode != collaborator.ReferralCode {
			return conflict("collaborators.update", "referral code is immutable")
		}
		st.collaborators[collaborator.ID] = collaborator
		return nil
	})
}

func (r collaboratorRepo) FindByID(ctx context.Context, collaboratorID string) (domain.Collaborator, error) {
	return r.first(ctx, "collaborators.get", func(c domain.Collaborator) bool { return c.ID == collaboratorID })
}

func (r collaboratorRepo) FindByUserID(ctx context.Context, userID string) (domain.Collaborator, error) {
	return r.first(ctx, "collaborators.find_by_user", func(c domain.Collaborator) bool {
		return userID != "" && c.UserID == userID
	})
}

func (r collaboratorRepo) FindByReferralCode(ctx context.Context, code string) (domain.Collaborator, error) {
	return r.first(ctx, "collaborators.find_by_referral_code", func(c domain.Collaborator) bool {
		return code != "" && c.ReferralCode == code
	})
}

func (r collaboratorRepo) ListAll(ctx context.Context) ([]domain.Collaborator, error) {
	return r.sorted(ctx), nil
}

func (r collaboratorRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collaborator], error) {
	return repositories.SlicePage(r.sorted(ctx), pager)
}

func (r collaboratorRepo) first(ctx context.Context, op string, match func(domain.Collaborator) bool) (domain.Collaborator, error) {
	var out domain.Collaborator
	err := r.s.read(ctx, func(st *state) error {
		for _, c := range st.collaborators {
			if match(c) {
				out = c
				return nil
			}
		}
		return notFound(op)
	})
	return out, err
}

func (r collaboratorRepo) sorted(ctx context.Context) []domain.Collaborator {
	var out []domain.Collaborator
	_ = r.s.read(ctx, func(st *state) error {
		for _, c := range st.collaborators {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type commissionRepo struct{ s *Store }

func (r commissionRepo) Insert(ctx context.Context, commission domain.Commission) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.commissions[commission.ID]; ok {
			return conflict("commissions.insert", "commission id exists")
		}
		for _, existing := range st.commissions {
			if existing.OrderID == commission.OrderID {
				return conflict("commissions.insert", "order already has a commission")
			}
		}
		st.commissions[commission.ID] = commission
		return nil
	})
}

func (r commissionRepo) Update(ctx context.Context, commission domain.Commission) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.commissions[commission.ID]; !ok {
			return notFound("commissions.update")
		}
		st.commissions[commission.ID] = commission
		return nil
	})
}

func (r commissionRepo) FindByOrderID(ctx context.Context, orderID string) (domain.Commission, error) {
	var out domain.Commission
	err := r.s.read(ctx, func(st *state) error {
		for _, c := range st.commissions {
			if c.OrderID == orderID {
				out = c
				return nil
			}
		}
		return notFound("commissions.find_by_order")
	})
	return out, err
}

func (r commissionRepo) ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Commission], error) {
	var all []domain.Commission
	_ = r.s.read(ctx, func(st *state) error {
		for _, c := range st.commissions {
			if c.CollaboratorID == collaboratorID {
				all = append(all, c)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].EarnedAt.Equal(all[j].EarnedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].EarnedAt.After(all[j].EarnedAt)
	})
	return repositories.SlicePage(all, pager)
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return conflict("orders.insert", "order id exists")
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; !ok {
			return notFound("orders.update")
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.s.read(ctx, func(st *state) error {
		o, ok := st.orders[orderID]
		if !ok {
			return notFound("orders.get")
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (r orderRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return repositories.SlicePage(r.filter(ctx, func(o domain.Order) bool { return o.UserID == userID }), pager)
}

func (r orderRepo) ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return repositories.SlicePage(r.filter(ctx, func(o domain.Order) bool { return o.CollaboratorID == collaboratorID }), pager)
}

func (r orderRepo) List(ctx context.Context, filter domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return repositories.SlicePage(r.filter(ctx, func(o domain.Order) bool {
		return filter.Status == nil || o.Status == *filter.Status
	}), pager)
}

func (r orderRepo) ListByAnonymousUsers(ctx context.Context, anonymousUserIDs []string) ([]domain.Order, error) {
	ids := make(map[string]struct{}, len(anonymousUserIDs))
	for _, id := range anonymousUserIDs {
		ids[id] = struct{}{}
	}
	return r.filter(ctx, func(o domain.Order) bool {
		if o.AnonymousUserID == "" {
			return false
		}
		_, ok := ids[o.AnonymousUserID]
		return ok
	}), nil
}

func (r orderRepo) ListExpiring(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	return r.filter(ctx, func(o domain.Order) bool {
		if o.Status == domain.OrderStatusCancelled {
			return false
		}
		for _, item := range o.Items {
			if !item.ExpiryDate.Before(from) && !item.ExpiryDate.After(to) {
				return true
			}
		}
		return false
	}), nil
}

func (r orderRepo) filter(ctx context.Context, match func(domain.Order) bool) []domain.Order {
	var out []domain.Order
	_ = r.s.read(ctx, func(st *state) error {
		for _, o := range st.orders {
			if match(o) {
				out = append(out, cloneOrder(o))
			}
		}
		return nil
	})
	sortOrders(out)
	return out
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].OrderDate.After(orders[j].OrderDate)
	})
}
