package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// CollaboratorRepository stores collaborators; user id and referral code are unique columns.
type CollaboratorRepository struct{ reg *Registry }

func (r *CollaboratorRepository) Insert(ctx context.Context, collaborator domain.Collaborator) error {
	m := newCollaboratorModel(collaborator)
	return classify("collaborators.insert", r.reg.conn(ctx).Create(&m).Error)
}

func (r *CollaboratorRepository) Update(ctx context.Context, collaborator domain.Collaborator) error {
	return r.reg.RunInTx(ctx, func(ctx context.Context) error {
		db := r.reg.conn(ctx)
		var existing collaboratorModel
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&existing, "id = ?", collaborator.ID).Error; err != nil {
			return classify("collaborators.update", err)
		}
		if existing.ReferralCode != collaborator.ReferralCode {
			return repositories.NewConflictError("collaborators.update", errors.New("referral code is immutable"))
		}
		m := newCollaboratorModel(collaborator)
		return classify("collaborators.update", db.Save(&m).Error)
	})
}

func (r *CollaboratorRepository) FindByID(ctx context.Context, collaboratorID string) (domain.Collaborator, error) {
	return r.first(ctx, "collaborators.get", "id = ?", collaboratorID)
}

func (r *CollaboratorRepository) FindByUserID(ctx context.Context, userID string) (domain.Collaborator, error) {
	if userID == "" {
		return domain.Collaborator{}, repositories.NewNotFoundError("collaborators.find_by_user", nil)
	}
	return r.first(ctx, "collaborators.find_by_user", "user_id = ?", userID)
}

func (r *CollaboratorRepository) FindByReferralCode(ctx context.Context, code string) (domain.Collaborator, error) {
	if code == "" {
		return domain.Collaborator{}, repositories.NewNotFoundError("collaborators.find_by_referral_code", nil)
	}
	return r.first(ctx, "collaborators.find_by_referral_code", "referral_code = ?", code)
}

func (r *CollaboratorRepository) first(ctx context.Context, op, cond, value string) (domain.Collaborator, error) {
	var m collaboratorModel
	if err := r.reg.conn(ctx).Take(&m, cond, value).Error; err != nil {
		return domain.Collaborator{}, classify(op, err)
	}
	return m.toDomain(), nil
}

// ListAll locks every collaborator row when called inside a transaction, which serialises
// concurrent least-loaded selections until commit.
func (r *CollaboratorRepository) ListAll(ctx context.Context) ([]domain.Collaborator, error) {
	db := r.reg.conn(ctx)
	if inTx(ctx) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var models []collaboratorModel
	if err := db.Order("created_at, id").Find(&models).Error; err != nil {
		return nil, classify("collaborators.list_all", err)
	}
	out := make([]domain.Collaborator, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *CollaboratorRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collaborator], error) {
	return findPage(r.reg.conn(ctx).Model(&collaboratorModel{}).Order("created_at, id"), "collaborators.list", pager, collaboratorModel.toDomain)
}

// CommissionRepository stores commissions; order_id carries a unique index.
type CommissionRepository struct{ reg *Registry }

func (r *CommissionRepository) Insert(ctx context.Context, commission domain.Commission) error {
	m := newCommissionModel(commission)
	return classify("commissions.insert", r.reg.conn(ctx).Create(&m).Error)
}

func (r *CommissionRepository) Update(ctx context.Context, commission domain.Commission) error {
	m := newCommissionModel(commission)
	res := r.reg.conn(ctx).Model(&commissionModel{}).Where("id = ?", commission.ID).
		Select("collaborator_id", "amount", "status", "earned_at", "updated_at").Updates(&m)
	if res.Error != nil {
		return classify("commissions.update", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.NewNotFoundError("commissions.update", nil)
	}
	return nil
}

func (r *CommissionRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Commission, error) {
	var m commissionModel
	if err := r.reg.conn(ctx).Take(&m, "order_id = ?", orderID).Error; err != nil {
		return domain.Commission{}, classify("commissions.find_by_order", err)
	}
	return m.toDomain(), nil
}

func (r *CommissionRepository) ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Commission], error) {
	query := r.reg.conn(ctx).Model(&commissionModel{}).Where("collaborator_id = ?", collaboratorID).Order("earned_at DESC, id DESC")
	return findPage(query, "commissions.list_by_collaborator", pager, commissionModel.toDomain)
}

// OrderRepository stores order headers and their items in separate tables.
type OrderRepository struct{ reg *Registry }

func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") })
}

func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("order_date DESC, id DESC")
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	m := newOrderModel(order)
	return classify("orders.insert", r.reg.conn(ctx).Create(&m).Error)
}

// Update rewrites the header and upserts every item by id.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	m := newOrderModel(order)
	return r.reg.RunInTx(ctx, func(ctx context.Context) error {
		db := r.reg.conn(ctx)
		res := db.Model(&orderModel{}).Where("id = ?", m.ID).
			Select("user_id", "anonymous_user_id", "collaborator_id", "status", "total", "order_date", "start_date", "end_date", "referral_code_used", "updated_at").
			Updates(&m)
		if res.Error != nil {
			return classify("orders.update", res.Error)
		}
		if res.RowsAffected == 0 {
			return repositories.NewNotFoundError("orders.update", nil)
		}
		if len(m.Items) == 0 {
			return nil
		}
		return classify("orders.update", db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m.Items).Error)
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var m orderModel
	if err := withItems(r.reg.conn(ctx)).Take(&m, "id = ?", orderID).Error; err != nil {
		return domain.Order{}, classify("orders.get", err)
	}
	return m.toDomain(), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	query := newestFirst(withItems(r.reg.conn(ctx)).Model(&orderModel{}).Where("user_id = ?", userID))
	return findPage(query, "orders.list_by_user", pager, orderModel.toDomain)
}

func (r *OrderRepository) ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	query := newestFirst(withItems(r.reg.conn(ctx)).Model(&orderModel{}).Where("collaborator_id = ?", collaboratorID))
	return findPage(query, "orders.list_by_collaborator", pager, orderModel.toDomain)
}

func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	query := withItems(r.reg.conn(ctx)).Model(&orderModel{})
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	return findPage(newestFirst(query), "orders.list", pager, orderModel.toDomain)
}

func (r *OrderRepository) ListByAnonymousUsers(ctx context.Context, anonymousUserIDs []string) ([]domain.Order, error) {
	if len(anonymousUserIDs) == 0 {
		return []domain.Order{}, nil
	}
	var models []orderModel
	err := newestFirst(withItems(r.reg.conn(ctx)).Where("anonymous_user_id IN ?", anonymousUserIDs)).Find(&models).Error
	if err != nil {
		return nil, classify("orders.list_by_anonymous_users", err)
	}
	return toOrders(models), nil
}

func (r *OrderRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	var models []orderModel
	if err := expiringQuery(r.reg.conn(ctx), from, to).Find(&models).Error; err != nil {
		return nil, classify("orders.list_expiring", err)
	}
	return toOrders(models), nil
}

func expiringQuery(db *gorm.DB, from, to time.Time) *gorm.DB {
	expiring := db.Session(&gorm.Session{NewDB: true}).Model(&orderItemModel{}).
		Select("order_id").Where("expiry_date BETWEEN ? AND ?", from.UTC(), to.UTC())
	return newestFirst(withItems(db).
		Where("status <> ?", string(domain.OrderStatusCancelled)).
		Where("id IN (?)", expiring))
}

func toOrders(models []orderModel) []domain.Order {
	out := make([]domain.Order, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out
}
