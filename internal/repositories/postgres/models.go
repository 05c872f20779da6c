package postgres

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

// Models lists every table managed by AutoMigrate, parents first.
func Models() []any {
	return []any{
		&productModel{},
		&userModel{},
		&anonymousUserModel{},
		&cartModel{},
		&cartItemModel{},
		&collaboratorModel{},
		&commissionModel{},
		&orderModel{},
		&orderItemModel{},
		&surveyModel{},
	}
}

type productModel struct {
	ID               string          `gorm:"primaryKey;size:64"`
	Code             string          `gorm:"uniqueIndex;size:32;not null"`
	Name             string          `gorm:"not null"`
	Price            decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Stock            int             `gorm:"not null;check:chk_products_stock,stock >= 0"`
	SubscriptionDays int             `gorm:"not null;default:0"`
	CategoryID       string          `gorm:"size:64"`
	CreatedAt        time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime:false"`
}

func (productModel) TableName() string { return "products" }

func newProductModel(p domain.Product) productModel {
	return productModel{
		ID:               p.ID,
		Code:             p.Code,
		Name:             p.Name,
		Price:            p.Price,
		Stock:            p.Stock,
		SubscriptionDays: p.SubscriptionDays,
		CategoryID:       p.CategoryID,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func (m productModel) toDomain() domain.Product {
	return domain.Product{
		ID:               m.ID,
		Code:             m.Code,
		Name:             m.Name,
		Price:            m.Price,
		Stock:            m.Stock,
		SubscriptionDays: m.SubscriptionDays,
		CategoryID:       m.CategoryID,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
}

type userModel struct {
	ID          string          `gorm:"primaryKey;size:128"`
	Email       string          `gorm:"size:320"`
	PhoneNumber string          `gorm:"size:32"`
	DisplayName string          `gorm:"size:255"`
	TotalSpent  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	CreatedAt   time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime:false"`
}

func (userModel) TableName() string { return "users" }

func newUserModel(u domain.User) userModel {
	return userModel{
		ID:          u.ID,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		DisplayName: u.DisplayName,
		TotalSpent:  u.TotalSpent,
		CreatedAt:   u.CreatedAt.UTC(),
		UpdatedAt:   u.UpdatedAt.UTC(),
	}
}

func (m userModel) toDomain() domain.User {
	return domain.User{
		ID:          m.ID,
		Email:       m.Email,
		PhoneNumber: m.PhoneNumber,
		DisplayName: m.DisplayName,
		TotalSpent:  m.TotalSpent,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

type anonymousUserModel struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"size:255"`
	Email       string    `gorm:"size:320"`
	EmailLower  string    `gorm:"size:320;index"`
	PhoneNumber string    `gorm:"size:32;index"`
	IPAddress   string    `gorm:"size:64;index"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
}

func (anonymousUserModel) TableName() string { return "anonymous_users" }

func newAnonymousUserModel(u domain.AnonymousUser) anonymousUserModel {
	return anonymousUserModel{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		EmailLower:  strings.ToLower(u.Email),
		PhoneNumber: u.PhoneNumber,
		IPAddress:   u.IPAddress,
		CreatedAt:   u.CreatedAt.UTC(),
	}
}

func (m anonymousUserModel) toDomain() domain.AnonymousUser {
	return domain.AnonymousUser{
		ID:          m.ID,
		Name:        m.Name,
		Email:       m.Email,
		PhoneNumber: m.PhoneNumber,
		IPAddress:   m.IPAddress,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

type cartModel struct {
	ID              string          `gorm:"primaryKey;size:64"`
	UserID          string          `gorm:"size:128;index"`
	AnonymousUserID string          `gorm:"size:64;index"`
	Items           []cartItemModel `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime:false"`
}

func (cartModel) TableName() string { return "carts" }

type cartItemModel struct {
	ID          uint            `gorm:"primaryKey"`
	CartID      string          `gorm:"size:64;index"`
	Position    int             `gorm:"not null"`
	ProductID   string          `gorm:"size:64"`
	ProductCode string          `gorm:"size:32"`
	ProductName string          `gorm:"size:255"`
	Quantity    int             `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	AddedAt     time.Time
}

func (cartItemModel) TableName() string { return "cart_items" }

func newCartModel(c domain.Cart) cartModel {
	m := cartModel{
		ID:              c.ID,
		UserID:          c.UserID,
		AnonymousUserID: c.AnonymousUserID,
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
	for i, item := range c.Items {
		m.Items = append(m.Items, cartItemModel{
			CartID:      c.ID,
			Position:    i,
			ProductID:   item.ProductID,
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			AddedAt:     item.AddedAt.UTC(),
		})
	}
	return m
}

func (m cartModel) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:              m.ID,
		UserID:          m.UserID,
		AnonymousUserID: m.AnonymousUserID,
		Items:           make([]domain.CartItem, 0, len(m.Items)),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
	for _, item := range m.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:   item.ProductID,
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			AddedAt:     item.AddedAt.UTC(),
		})
	}
	return cart
}

type collaboratorModel struct {
	ID                    string          `gorm:"primaryKey;size:64"`
	UserID                string          `gorm:"size:128;uniqueIndex;not null"`
	Email                 string          `gorm:"size:320"`
	ReferralCode          string          `gorm:"size:16;uniqueIndex;not null"`
	CommissionRate        decimal.Decimal `gorm:"type:numeric(5,4);not null"`
	TotalOrdersHandled    int             `gorm:"not null;default:0"`
	TotalSurveysHandled   int             `gorm:"not null;default:0"`
	TotalCommissionEarned decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	CreatedAt             time.Time       `gorm:"autoCreateTime:false;index"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime:false"`
}

func (collaboratorModel) TableName() string { return "collaborators" }

func newCollaboratorModel(c domain.Collaborator) collaboratorModel {
	return collaboratorModel{
		ID:                    c.ID,
		UserID:                c.UserID,
		Email:                 c.Email,
		ReferralCode:          c.ReferralCode,
		CommissionRate:        c.CommissionRate,
		TotalOrdersHandled:    c.TotalOrdersHandled,
		TotalSurveysHandled:   c.TotalSurveysHandled,
		TotalCommissionEarned: c.TotalCommissionEarned,
		CreatedAt:             c.CreatedAt.UTC(),
		UpdatedAt:             c.UpdatedAt.UTC(),
	}
}

func (m collaboratorModel) toDomain() domain.Collaborator {
	return domain.Collaborator{
		ID:                    m.ID,
		UserID:                m.UserID,
		Email:                 m.Email,
		ReferralCode:          m.ReferralCode,
		CommissionRate:        m.CommissionRate,
		TotalOrdersHandled:    m.TotalOrdersHandled,
		TotalSurveysHandled:   m.TotalSurveysHandled,
		TotalCommissionEarned: m.TotalCommissionEarned,
		CreatedAt:             m.CreatedAt.UTC(),
		UpdatedAt:             m.UpdatedAt.UTC(),
	}
}

type commissionModel struct {
	ID             string          `gorm:"primaryKey;size:64"`
	OrderID        string          `gorm:"size:64;uniqueIndex;not null"`
	CollaboratorID string          `gorm:"size:64;index;not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Status         string          `gorm:"size:16;not null"`
	EarnedAt       time.Time       `gorm:"index"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime:false"`
}

func (commissionModel) TableName() string { return "commissions" }

func newCommissionModel(c domain.Commission) commissionModel {
	return commissionModel{
		ID:             c.ID,
		OrderID:        c.OrderID,
		CollaboratorID: c.CollaboratorID,
		Amount:         c.Amount,
		Status:         string(c.Status),
		EarnedAt:       c.EarnedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
}

func (m commissionModel) toDomain() domain.Commission {
	return domain.Commission{
		ID:             m.ID,
		OrderID:        m.OrderID,
		CollaboratorID: m.CollaboratorID,
		Amount:         m.Amount,
		Status:         domain.OrderStatus(m.Status),
		EarnedAt:       m.EarnedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

type orderModel struct {
	ID               string           `gorm:"primaryKey;size:64"`
	UserID           string           `gorm:"size:128;index"`
	AnonymousUserID  string           `gorm:"size:64;index"`
	CollaboratorID   string           `gorm:"size:64;index"`
	Status           string           `gorm:"size:16;index;not null"`
	Items            []orderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Total            decimal.Decimal  `gorm:"type:numeric(14,2);not null"`
	OrderDate        time.Time        `gorm:"index"`
	StartDate        *time.Time
	EndDate          *time.Time
	ReferralCodeUsed string    `gorm:"size:16"`
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ID               string          `gorm:"primaryKey;size:64"`
	OrderID          string          `gorm:"size:64;index;not null"`
	Position         int             `gorm:"not null"`
	ProductID        string          `gorm:"size:64"`
	ProductCode      string          `gorm:"size:32"`
	ProductName      string          `gorm:"size:255"`
	Quantity         int             `gorm:"not null"`
	UnitPrice        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	SubscriptionDays int             `gorm:"not null;default:0"`
	ExpiryDate       time.Time       `gorm:"index"`
}

func (orderItemModel) TableName() string { return "order_items" }

func newOrderModel(o domain.Order) orderModel {
	m := orderModel{
		ID:               o.ID,
		UserID:           o.UserID,
		AnonymousUserID:  o.AnonymousUserID,
		CollaboratorID:   o.CollaboratorID,
		Status:           string(o.Status),
		Total:            o.Total,
		OrderDate:        o.OrderDate.UTC(),
		StartDate:        utcPtr(o.StartDate),
		EndDate:          utcPtr(o.EndDate),
		ReferralCodeUsed: o.ReferralCodeUsed,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
	}
	for i, item := range o.Items {
		m.Items = append(m.Items, orderItemModel{
			ID:               item.ID,
			OrderID:          o.ID,
			Position:         i,
			ProductID:        item.ProductID,
			ProductCode:      item.ProductCode,
			ProductName:      item.ProductName,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			SubscriptionDays: item.SubscriptionDays,
			ExpiryDate:       item.ExpiryDate.UTC(),
		})
	}
	return m
}

func (m orderModel) toDomain() domain.Order {
	order := domain.Order{
		ID:               m.ID,
		UserID:           m.UserID,
		AnonymousUserID:  m.AnonymousUserID,
		CollaboratorID:   m.CollaboratorID,
		Status:           domain.OrderStatus(m.Status),
		Items:            make([]domain.OrderItem, 0, len(m.Items)),
		Total:            m.Total,
		OrderDate:        m.OrderDate.UTC(),
		StartDate:        utcPtr(m.StartDate),
		EndDate:          utcPtr(m.EndDate),
		ReferralCodeUsed: m.ReferralCodeUsed,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
	for _, item := range m.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:               item.ID,
			ProductID:        item.ProductID,
			ProductCode:      item.ProductCode,
			ProductName:      item.ProductName,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			SubscriptionDays: item.SubscriptionDays,
			ExpiryDate:       item.ExpiryDate.UTC(),
		})
	}
	return order
}

type surveyModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	UserID         string    `gorm:"size:128;index;not null"`
	CollaboratorID string    `gorm:"size:64;index"`
	Status         string    `gorm:"size:16;index;not null"`
	Question       string    `gorm:"size:500;not null"`
	Response       string    `gorm:"size:500"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false;index"`
	RespondedAt    *time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (surveyModel) TableName() string { return "surveys" }

func newSurveyModel(v domain.Survey) surveyModel {
	return surveyModel{
		ID:             v.ID,
		UserID:         v.UserID,
		CollaboratorID: v.CollaboratorID,
		Status:         string(v.Status),
		Question:       v.Question,
		Response:       v.Response,
		CreatedAt:      v.CreatedAt.UTC(),
		RespondedAt:    utcPtr(v.RespondedAt),
		UpdatedAt:      v.UpdatedAt.UTC(),
	}
}

func (m surveyModel) toDomain() domain.Survey {
	return domain.Survey{
		ID:             m.ID,
		UserID:         m.UserID,
		CollaboratorID: m.CollaboratorID,
		Status:         domain.OrderStatus(m.Status),
		Question:       m.Question,
		Response:       m.Response,
		CreatedAt:      m.CreatedAt.UTC(),
		RespondedAt:    utcPtr(m.RespondedAt),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
