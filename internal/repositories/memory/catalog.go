package memory

import (
	"context"
	"sort"
	"strings"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

type productRepo struct{ s *Store }

func (r productRepo) Insert(ctx context.Context, product domain.Product) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.products[product.ID]; ok {
			return conflict("products.insert", "product id exists")
		}
		for _, existing := range st.products {
			if existing.Code == product.Code {
				return conflict("products.insert", "product code exists")
			}
		}
		st.products[product.ID] = product
		return nil
	})
}

func (r productRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	err := r.s.read(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return notFound("products.get")
		}
		out = p
		return nil
	})
	return out, err
}

func (r productRepo) FindByCode(ctx context.Context, code string) (domain.Product, error) {
	var out domain.Product
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.products {
			if p.Code == code {
				out = p
				return nil
			}
		}
		return notFound("products.find_by_code")
	})
	return out, err
}

func (r productRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	var all []domain.Product
	_ = r.s.read(ctx, func(st *state) error {
		for _, p := range st.products {
			all = append(all, p)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })
	return repositories.SlicePage(all, pager)
}

func (r productRepo) AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	var out domain.Product
	err := r.s.write(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return repositories.NewStockError("products.adjust_stock", repositories.StockErrorProductNotFound, productID, 0, -delta)
		}
		if p.Stock+delta < 0 {
			return repositories.NewStockError("products.adjust_stock", repositories.StockErrorInsufficient, productID, p.Stock, -delta)
		}
		p.Stock += delta
		st.products[productID] = p
		out = p
		return nil
	})
	return out, err
}

type userRepo struct{ s *Store }

func (r userRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	var out domain.User
	err := r.s.read(ctx, func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return notFound("users.get")
		}
		out = u
		return nil
	})
	return out, err
}

func (r userRepo) Save(ctx context.Context, user domain.User) error {
	return r.s.write(ctx, func(st *state) error {
		st.users[user.ID] = user
		return nil
	})
}

type anonymousRepo struct{ s *Store }

func (r anonymousRepo) Insert(ctx context.Context, user domain.AnonymousUser) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.anonymous[user.ID]; ok {
			return conflict("anonymous_users.insert", "anonymous user exists")
		}
		st.anonymous[user.ID] = user
		return nil
	})
}

func (r anonymousRepo) FindByID(ctx context.Context, anonymousUserID string) (domain.AnonymousUser, error) {
	return r.first(ctx, "anonymous_users.get", func(u domain.AnonymousUser) bool { return u.ID == anonymousUserID })
}

func (r anonymousRepo) FindByIP(ctx context.Context, ip string) (domain.AnonymousUser, error) {
	return r.first(ctx, "anonymous_users.find_by_ip", func(u domain.AnonymousUser) bool {
		return ip != "" && u.IPAddress == ip
	})
}

func (r anonymousRepo) FindByContact(ctx context.Context, name, email, phone string) (domain.AnonymousUser, error) {
	return r.first(ctx, "anonymous_users.find_by_contact", func(u domain.AnonymousUser) bool {
		return u.Name == name && strings.EqualFold(u.Email, email) && u.PhoneNumber == phone
	})
}

func (r anonymousRepo) FindMatchingAny(ctx context.Context, ip, email, phone string) ([]domain.AnonymousUser, error) {
	return r.all(ctx, func(u domain.AnonymousUser) bool {
		return (ip != "" && u.IPAddress == ip) ||
			(email != "" && strings.EqualFold(u.Email, email)) ||
			(phone != "" && u.PhoneNumber == phone)
	}), nil
}

func (r anonymousRepo) FindByEmailAndPhone(ctx context.Context, email, phone string) ([]domain.AnonymousUser, error) {
	return r.all(ctx, func(u domain.AnonymousUser) bool {
		return strings.EqualFold(u.Email, email) && u.PhoneNumber == phone
	}), nil
}

func (r anonymousRepo) first(ctx context.Context, op string, match func(domain.AnonymousUser) bool) (domain.AnonymousUser, error) {
	matches := r.all(ctx, match)
	if len(matches) == 0 {
		return domain.AnonymousUser{}, notFound(op)
	}
	return matches[0], nil
}

func (r anonymousRepo) all(ctx context.Context, match func(domain.AnonymousUser) bool) []domain.AnonymousUser {
	var out []domain.AnonymousUser
	_ = r.s.read(ctx, func(st *state) error {
		for _, u := range st.anonymous {
			if match(u) {
				out = append(out, u)
			}
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

type cartRepo struct{ s *Store }

func (r cartRepo) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.find(ctx, "carts.find_by_user", func(c domain.Cart) bool { return userID != "" && c.UserID == userID })
}

func (r cartRepo) FindByAnonymousUser(ctx context.Context, anonymousUserID string) (domain.Cart, error) {
	return r.find(ctx, "carts.find_by_anonymous_user", func(c domain.Cart) bool {
		return anonymousUserID != "" && c.AnonymousUserID == anonymousUserID
	})
}

func (r cartRepo) find(ctx context.Context, op string, match func(domain.Cart) bool) (domain.Cart, error) {
	var out domain.Cart
	err := r.s.read(ctx, func(st *state) error {
		for _, c := range st.carts {
			if match(c) {
				out = cloneCart(c)
				return nil
			}
		}
		return notFound(op)
	})
	return out, err
}

func (r cartRepo) Save(ctx context.Context, cart domain.Cart) error {
	return r.s.write(ctx, func(st *state) error {
		if (cart.UserID == "") == (cart.AnonymousUserID == "") {
			return conflict("carts.save", "cart must have exactly one owner")
		}
		st.carts[cart.ID] = cloneCart(cart)
		return nil
	})
}

func (r cartRepo) Delete(ctx context.Context, cartID string) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.carts[cartID]; !ok {
			return notFound("carts.delete")
		}
		delete(st.carts, cartID)
		return nil
	})
}
