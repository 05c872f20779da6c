package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	pfirestore "github.com/YunomiXavia/beQuanTri/internal/platform/firestore"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

func productFromDoc(id string, d productDocument) domain.Product { return d.toDomain(id) }

// ProductRepository stores products keyed by product id.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[productDocument]
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.FindByCode(ctx, product.Code); err == nil {
			return repositories.NewConflictError("products.insert", errors.New("product code exists"))
		} else if !repositories.IsNotFound(err) {
			return err
		}
		return r.base.Create(ctx, product.ID, newProductDocument(product))
	})
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindByCode(ctx context.Context, code string) (domain.Product, error) {
	docs, err := r.base.QueryMatch(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	}, func(d productDocument) bool { return d.Code == code })
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, repositories.NewNotFoundError("products.find_by_code", nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *ProductRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	return queryPage(ctx, r.base, pager, func(q firestore.Query) firestore.Query {
		return q.OrderBy("code", firestore.Asc)
	}, productFromDoc)
}

// AdjustStock reads and rewrites the counter inside a transaction so concurrent adjustments
// are serialised by Firestore's optimistic concurrency.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	var out domain.Product
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.base.Get(ctx, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return repositories.NewStockError("products.adjust_stock", repositories.StockErrorProductNotFound, productID, 0, -delta)
			}
			return err
		}
		data := doc.Data
		if data.Stock+delta < 0 {
			return repositories.NewStockError("products.adjust_stock", repositories.StockErrorInsufficient, productID, data.Stock, -delta)
		}
		data.Stock += delta
		if err := r.base.Set(ctx, productID, data); err != nil {
			return err
		}
		out = data.toDomain(productID)
		return nil
	})
	return out, err
}

// UserRepository stores user profiles keyed by the identity principal.
type UserRepository struct {
	base *pfirestore.Collection[userDocument]
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *UserRepository) Save(ctx context.Context, user domain.User) error {
	return r.base.Set(ctx, user.ID, newUserDocument(user))
}

func anonymousFromDoc(id string, d anonymousUserDocument) domain.AnonymousUser {
	return d.toDomain(id)
}

// AnonymousUserRepository stores guest identities.
type AnonymousUserRepository struct {
	base *pfirestore.Collection[anonymousUserDocument]
}

func (r *AnonymousUserRepository) Insert(ctx context.Context, user domain.AnonymousUser) error {
	return r.base.Create(ctx, user.ID, newAnonymousUserDocument(user))
}

func (r *AnonymousUserRepository) FindByID(ctx context.Context, anonymousUserID string) (domain.AnonymousUser, error) {
	doc, err := r.base.Get(ctx, anonymousUserID)
	if err != nil {
		return domain.AnonymousUser{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *AnonymousUserRepository) FindByIP(ctx context.Context, ip string) (domain.AnonymousUser, error) {
	return r.first(ctx, "anonymous_users.find_by_ip", func(q firestore.Query) firestore.Query {
		return q.Where("ipAddress", "==", ip)
	}, func(d anonymousUserDocument) bool { return ip != "" && d.IPAddress == ip })
}

func (r *AnonymousUserRepository) FindByContact(ctx context.Context, name, email, phone string) (domain.AnonymousUser, error) {
	emailLower := strings.ToLower(email)
	return r.first(ctx, "anonymous_users.find_by_contact", func(q firestore.Query) firestore.Query {
		return q.Where("name", "==", name).Where("emailLower", "==", emailLower).Where("phoneNumber", "==", phone)
	}, func(d anonymousUserDocument) bool {
		return d.Name == name && d.EmailLower == emailLower && d.PhoneNumber == phone
	})
}

func (r *AnonymousUserRepository) FindMatchingAny(ctx context.Context, ip, email, phone string) ([]domain.AnonymousUser, error) {
	var filters []firestore.EntityFilter
	if ip != "" {
		filters = append(filters, firestore.PropertyFilter{Path: "ipAddress", Operator: "==", Value: ip})
	}
	if email != "" {
		filters = append(filters, firestore.PropertyFilter{Path: "emailLower", Operator: "==", Value: strings.ToLower(email)})
	}
	if phone != "" {
		filters = append(filters, firestore.PropertyFilter{Path: "phoneNumber", Operator: "==", Value: phone})
	}
	if len(filters) == 0 {
		return []domain.AnonymousUser{}, nil
	}
	emailLower := strings.ToLower(email)
	return r.all(ctx, func(q firestore.Query) firestore.Query {
		if len(filters) == 1 {
			return q.WhereEntity(filters[0])
		}
		return q.WhereEntity(firestore.OrFilter{Filters: filters})
	}, func(d anonymousUserDocument) bool {
		return (ip != "" && d.IPAddress == ip) ||
			(email != "" && d.EmailLower == emailLower) ||
			(phone != "" && d.PhoneNumber == phone)
	})
}

func (r *AnonymousUserRepository) FindByEmailAndPhone(ctx context.Context, email, phone string) ([]domain.AnonymousUser, error) {
	emailLower := strings.ToLower(email)
	return r.all(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("emailLower", "==", emailLower).Where("phoneNumber", "==", phone)
	}, func(d anonymousUserDocument) bool {
		return d.EmailLower == emailLower && d.PhoneNumber == phone
	})
}

func (r *AnonymousUserRepository) first(ctx context.Context, op string, build pfirestore.QueryBuilder, match func(anonymousUserDocument) bool) (domain.AnonymousUser, error) {
	matches, err := r.all(ctx, build, match)
	if err != nil {
		return domain.AnonymousUser{}, err
	}
	if len(matches) == 0 {
		return domain.AnonymousUser{}, repositories.NewNotFoundError(op, nil)
	}
	return matches[0], nil
}

// all sorts in memory so equality filters need no composite index.
func (r *AnonymousUserRepository) all(ctx context.Context, build pfirestore.QueryBuilder, match func(anonymousUserDocument) bool) ([]domain.AnonymousUser, error) {
	docs, err := r.base.QueryMatch(ctx, build, match)
	if err != nil {
		return nil, err
	}
	out := convertAll(docs, anonymousFromDoc)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CartRepository stores carts with their items embedded.
type CartRepository struct {
	base *pfirestore.Collection[cartDocument]
}

func (r *CartRepository) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.find(ctx, "carts.find_by_user", "userId", userID, func(d cartDocument) bool { return d.UserID == userID })
}

func (r *CartRepository) FindByAnonymousUser(ctx context.Context, anonymousUserID string) (domain.Cart, error) {
	return r.find(ctx, "carts.find_by_anonymous_user", "anonymousUserId", anonymousUserID, func(d cartDocument) bool {
		return d.AnonymousUserID == anonymousUserID
	})
}

func (r *CartRepository) find(ctx context.Context, op, field, value string, match func(cartDocument) bool) (domain.Cart, error) {
	if value == "" {
		return domain.Cart{}, repositories.NewNotFoundError(op, nil)
	}
	docs, err := r.base.QueryMatch(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	}, match)
	if err != nil {
		return domain.Cart{}, err
	}
	if len(docs) == 0 {
		return domain.Cart{}, repositories.NewNotFoundError(op, nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if (cart.UserID == "") == (cart.AnonymousUserID == "") {
		return repositories.NewConflictError("carts.save", errors.New("cart must have exactly one owner"))
	}
	return r.base.Set(ctx, cart.ID, newCartDocument(cart))
}

func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if _, err := r.base.Get(ctx, cartID); err != nil {
		return err
	}
	return r.base.Delete(ctx, cartID)
}
