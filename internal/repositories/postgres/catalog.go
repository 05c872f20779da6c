package postgres

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// ProductRepository stores the catalog in the products table.
type ProductRepository struct{ reg *Registry }

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	m := newProductModel(product)
	return classify("products.insert", r.reg.conn(ctx).Create(&m).Error)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var m productModel
	if err := r.reg.conn(ctx).Take(&m, "id = ?", productID).Error; err != nil {
		return domain.Product{}, classify("products.get", err)
	}
	return m.toDomain(), nil
}

func (r *ProductRepository) FindByCode(ctx context.Context, code string) (domain.Product, error) {
	var m productModel
	if err := r.reg.conn(ctx).Take(&m, "code = ?", code).Error; err != nil {
		return domain.Product{}, classify("products.find_by_code", err)
	}
	return m.toDomain(), nil
}

func (r *ProductRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	return findPage(r.reg.conn(ctx).Model(&productModel{}).Order("code"), "products.list", pager, productModel.toDomain)
}

// AdjustStock applies delta with a single conditional UPDATE so the counter never goes negative,
// even across concurrent transactions.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	var m productModel
	res := stockAdjustment(r.reg.conn(ctx), productID, delta).Clauses(clause.Returning{}).Model(&m).
		Update("stock", gorm.Expr("stock + ?", delta))
	if res.Error != nil {
		return domain.Product{}, classify("products.adjust_stock", res.Error)
	}
	if res.RowsAffected == 1 {
		return m.toDomain(), nil
	}
	current, err := r.FindByID(ctx, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Product{}, repositories.NewStockError("products.adjust_stock", repositories.StockErrorProductNotFound, productID, 0, -delta)
		}
		return domain.Product{}, err
	}
	return domain.Product{}, repositories.NewStockError("products.adjust_stock", repositories.StockErrorInsufficient, productID, current.Stock, -delta)
}

func stockAdjustment(db *gorm.DB, productID string, delta int) *gorm.DB {
	return db.Where("id = ? AND stock + ? >= 0", productID, delta)
}

// UserRepository stores user profiles keyed by the identity principal.
type UserRepository struct{ reg *Registry }

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	var m userModel
	if err := r.reg.conn(ctx).Take(&m, "id = ?", userID).Error; err != nil {
		return domain.User{}, classify("users.get", err)
	}
	return m.toDomain(), nil
}

func (r *UserRepository) Save(ctx context.Context, user domain.User) error {
	m := newUserModel(user)
	return classify("users.save", r.reg.conn(ctx).Save(&m).Error)
}

// AnonymousUserRepository stores guest identities.
type AnonymousUserRepository struct{ reg *Registry }

func (r *AnonymousUserRepository) Insert(ctx context.Context, user domain.AnonymousUser) error {
	m := newAnonymousUserModel(user)
	return classify("anonymous_users.insert", r.reg.conn(ctx).Create(&m).Error)
}

func (r *AnonymousUserRepository) FindByID(ctx context.Context, anonymousUserID string) (domain.AnonymousUser, error) {
	return r.first(ctx, "anonymous_users.get", r.reg.conn(ctx).Where("id = ?", anonymousUserID))
}

func (r *AnonymousUserRepository) FindByIP(ctx context.Context, ip string) (domain.AnonymousUser, error) {
	if ip == "" {
		return domain.AnonymousUser{}, repositories.NewNotFoundError("anonymous_users.find_by_ip", nil)
	}
	return r.first(ctx, "anonymous_users.find_by_ip", r.reg.conn(ctx).Where("ip_address = ?", ip))
}

func (r *AnonymousUserRepository) FindByContact(ctx context.Context, name, email, phone string) (domain.AnonymousUser, error) {
	return r.first(ctx, "anonymous_users.find_by_contact", r.reg.conn(ctx).
		Where("name = ? AND email_lower = ? AND phone_number = ?", name, strings.ToLower(email), phone))
}

func (r *AnonymousUserRepository) FindMatchingAny(ctx context.Context, ip, email, phone string) ([]domain.AnonymousUser, error) {
	db := r.reg.conn(ctx)
	var conds []clause.Expression
	if ip != "" {
		conds = append(conds, clause.Eq{Column: clause.Column{Name: "ip_address"}, Value: ip})
	}
	if email != "" {
		conds = append(conds, clause.Eq{Column: clause.Column{Name: "email_lower"}, Value: strings.ToLower(email)})
	}
	if phone != "" {
		conds = append(conds, clause.Eq{Column: clause.Column{Name: "phone_number"}, Value: phone})
	}
	if len(conds) == 0 {
		return []domain.AnonymousUser{}, nil
	}
	return r.all("anonymous_users.find_matching_any", db.Clauses(clause.Where{Exprs: []clause.Expression{clause.Or(conds...)}}))
}

func (r *AnonymousUserRepository) FindByEmailAndPhone(ctx context.Context, email, phone string) ([]domain.AnonymousUser, error) {
	return r.all("anonymous_users.find_by_email_phone", r.reg.conn(ctx).
		Where("email_lower = ? AND phone_number = ?", strings.ToLower(email), phone))
}

func (r *AnonymousUserRepository) first(_ context.Context, op string, query *gorm.DB) (domain.AnonymousUser, error) {
	var m anonymousUserModel
	if err := query.Order("created_at, id").Take(&m).Error; err != nil {
		return domain.AnonymousUser{}, classify(op, err)
	}
	return m.toDomain(), nil
}

func (r *AnonymousUserRepository) all(op string, query *gorm.DB) ([]domain.AnonymousUser, error) {
	var models []anonymousUserModel
	if err := query.Order("created_at, id").Find(&models).Error; err != nil {
		return nil, classify(op, err)
	}
	out := make([]domain.AnonymousUser, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// CartRepository stores cart headers and their items in separate tables.
type CartRepository struct{ reg *Registry }

func (r *CartRepository) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, repositories.NewNotFoundError("carts.find_by_user", nil)
	}
	return r.find(ctx, "carts.find_by_user", "user_id = ?", userID)
}

func (r *CartRepository) FindByAnonymousUser(ctx context.Context, anonymousUserID string) (domain.Cart, error) {
	if anonymousUserID == "" {
		return domain.Cart{}, repositories.NewNotFoundError("carts.find_by_anonymous_user", nil)
	}
	return r.find(ctx, "carts.find_by_anonymous_user", "anonymous_user_id = ?", anonymousUserID)
}

func (r *CartRepository) find(ctx context.Context, op, cond string, value string) (domain.Cart, error) {
	var m cartModel
	err := r.reg.conn(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where(cond, value).Order("created_at, id").Take(&m).Error
	if err != nil {
		return domain.Cart{}, classify(op, err)
	}
	return m.toDomain(), nil
}

// Save upserts the header and replaces the stored item set.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if (cart.UserID == "") == (cart.AnonymousUserID == "") {
		return repositories.NewConflictError("carts.save", errors.New("cart must have exactly one owner"))
	}
	m := newCartModel(cart)
	return r.reg.RunInTx(ctx, func(ctx context.Context) error {
		db := r.reg.conn(ctx)
		if err := db.Omit("Items").Save(&m).Error; err != nil {
			return classify("carts.save", err)
		}
		if err := db.Where("cart_id = ?", m.ID).Delete(&cartItemModel{}).Error; err != nil {
			return classify("carts.save", err)
		}
		if len(m.Items) == 0 {
			return nil
		}
		return classify("carts.save", db.Create(&m.Items).Error)
	})
}

func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	return r.reg.RunInTx(ctx, func(ctx context.Context) error {
		db := r.reg.conn(ctx)
		if err := db.Where("cart_id = ?", cartID).Delete(&cartItemModel{}).Error; err != nil {
			return classify("carts.delete", err)
		}
		res := db.Delete(&cartModel{}, "id = ?", cartID)
		if res.Error != nil {
			return classify("carts.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return repositories.NewNotFoundError("carts.delete", nil)
		}
		return nil
	})
}
