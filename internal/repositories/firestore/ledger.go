package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	pfirestore "github.com/YunomiXavia/beQuanTri/internal/platform/firestore"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// Firestore caps the number of values in an "in" filter.
const maxInValues = 30

func collaboratorFromDoc(id string, d collaboratorDocument) domain.Collaborator {
	return d.toDomain(id)
}

// CollaboratorRepository stores collaborators keyed by collaborator id.
type CollaboratorRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[collaboratorDocument]
}

func (r *CollaboratorRepository) Insert(ctx context.Context, collaborator domain.Collaborator) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.FindByReferralCode(ctx, collaborator.ReferralCode); err == nil {
			return repositories.NewConflictError("collaborators.insert", errors.New("referral code exists"))
		} else if !repositories.IsNotFound(err) {
			return err
		}
		if collaborator.UserID != "" {
			if _, err := r.FindByUserID(ctx, collaborator.UserID); err == nil {
				return repositories.NewConflictError("collaborators.insert", errors.New("user already registered as collaborator"))
			} else if !repositories.IsNotFound(err) {
				return err
			}
		}
		return r.base.Create(ctx, collaborator.ID, newCollaboratorDocument(collaborator))
	})
}

func (r *CollaboratorRepository) Update(ctx context.Context, collaborator domain.Collaborator) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := r.base.Get(ctx, collaborator.ID)
		if err != nil {
			return err
		}
		if existing.Data.ReferralCode != collaborator.ReferralCode {
			return repositories.NewConflictError("collaborators.update", errors.New("referral code is immutable"))
		}
		return r.base.Set(ctx, collaborator.ID, newCollaboratorDocument(collaborator))
	})
}

func (r *CollaboratorRepository) FindByID(ctx context.Context, collaboratorID string) (domain.Collaborator, error) {
	doc, err := r.base.Get(ctx, collaboratorID)
	if err != nil {
		return domain.Collaborator{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CollaboratorRepository) FindByUserID(ctx context.Context, userID string) (domain.Collaborator, error) {
	return r.first(ctx, "collaborators.find_by_user", "userId", userID, func(d collaboratorDocument) bool { return d.UserID == userID })
}

func (r *CollaboratorRepository) FindByReferralCode(ctx context.Context, code string) (domain.Collaborator, error) {
	return r.first(ctx, "collaborators.find_by_referral_code", "referralCode", code, func(d collaboratorDocument) bool {
		return d.ReferralCode == code
	})
}

func (r *CollaboratorRepository) first(ctx context.Context, op, field, value string, match func(collaboratorDocument) bool) (domain.Collaborator, error) {
	if value == "" {
		return domain.Collaborator{}, repositories.NewNotFoundError(op, nil)
	}
	docs, err := r.base.QueryMatch(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	}, match)
	if err != nil {
		return domain.Collaborator{}, err
	}
	if len(docs) == 0 {
		return domain.Collaborator{}, repositories.NewNotFoundError(op, nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListAll reads every collaborator. Inside a transaction the reads become part of its read set,
// so a concurrent counter update aborts and retries the transaction.
func (r *CollaboratorRepository) ListAll(ctx context.Context) ([]domain.Collaborator, error) {
	docs, err := r.base.QueryMatch(ctx, func(q firestore.Query) firestore.Query { return q }, func(collaboratorDocument) bool { return true })
	if err != nil {
		return nil, err
	}
	out := convertAll(docs, collaboratorFromDoc)
	sortCollaborators(out)
	return out, nil
}

func (r *CollaboratorRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collaborator], error) {
	return queryPage(ctx, r.base, pager, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	}, collaboratorFromDoc)
}

func sortCollaborators(all []domain.Collaborator) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
}

func commissionFromDoc(orderID string, d commissionDocument) domain.Commission {
	return d.toDomain(orderID)
}

// CommissionRepository stores commissions keyed by order id.
type CommissionRepository struct {
	base *pfirestore.Collection[commissionDocument]
}

func (r *CommissionRepository) Insert(ctx context.Context, commission domain.Commission) error {
	return r.base.Create(ctx, commission.OrderID, newCommissionDocument(commission))
}

func (r *CommissionRepository) Update(ctx context.Context, commission domain.Commission) error {
	if _, err := r.base.Get(ctx, commission.OrderID); err != nil {
		return err
	}
	return r.base.Set(ctx, commission.OrderID, newCommissionDocument(commission))
}

func (r *CommissionRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Commission, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Commission{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CommissionRepository) ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Commission], error) {
	return queryPage(ctx, r.base, pager, func(q firestore.Query) firestore.Query {
		return q.Where("collaboratorId", "==", collaboratorID).OrderBy("earnedAt", firestore.Desc)
	}, commissionFromDoc)
}

func orderFromDoc(id string, d orderDocument) domain.Order { return d.toDomain(id) }

// OrderRepository stores orders with their items embedded.
type OrderRepository struct {
	base *pfirestore.Collection[orderDocument]
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if _, err := r.base.Get(ctx, order.ID); err != nil {
		return err
	}
	return r.base.Set(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func newestFirst(q firestore.Query) firestore.Query {
	return q.OrderBy("orderDate", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return queryPage(ctx, r.base, pager, func(q firestore.Query) firestore.Query {
		return newestFirst(q.Where("userId", "==", userID))
	}, orderFromDoc)
}

func (r *OrderRepository) ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return queryPage(ctx, r.base, pager, func(q firestore.Query) firestore.Query {
		return newestFirst(q.Where("collaboratorId", "==", collaboratorID))
	}, orderFromDoc)
}

func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return queryPage(ctx, r.base, pager, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		return newestFirst(q)
	}, orderFromDoc)
}

func (r *OrderRepository) ListByAnonymousUsers(ctx context.Context, anonymousUserIDs []string) ([]domain.Order, error) {
	var out []domain.Order
	for start := 0; start < len(anonymousUserIDs); start += maxInValues {
		end := start + maxInValues
		if end > len(anonymousUserIDs) {
			end = len(anonymousUserIDs)
		}
		chunk := anonymousUserIDs[start:end]
		wanted := make(map[string]bool, len(chunk))
		for _, id := range chunk {
			wanted[id] = true
		}
		docs, err := r.base.QueryMatch(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("anonymousUserId", "in", chunk)
		}, func(d orderDocument) bool { return wanted[d.AnonymousUserID] })
		if err != nil {
			return nil, err
		}
		out = append(out, convertAll(docs, orderFromDoc)...)
	}
	sortOrders(out)
	return out, nil
}

// ListExpiring narrows by the latest item expiry, then keeps orders with an item inside the window.
func (r *OrderRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("maxExpiry", ">=", from.UTC())
	})
	if err != nil {
		return nil, err
	}
	var out []domain.Order
	for _, doc := range docs {
		if doc.Data.Status == string(domain.OrderStatusCancelled) {
			continue
		}
		for _, item := range doc.Data.Items {
			if !item.ExpiryDate.Before(from) && !item.ExpiryDate.After(to) {
				out = append(out, doc.Data.toDomain(doc.ID))
				break
			}
		}
	}
	sortOrders(out)
	return out, nil
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].OrderDate.After(orders[j].OrderDate)
	})
}
