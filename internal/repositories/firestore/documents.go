package firestore

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

const (
	productsCollection      = "products"
	usersCollection         = "users"
	anonymousUserCollection = "anonymousUsers"
	cartsCollection         = "carts"
	collaboratorsCollection = "collaborators"
	commissionsCollection   = "commissions"
	ordersCollection        = "orders"
	surveysCollection       = "surveys"
)

// Money is stored as a decimal string so no precision is lost to float64.
func moneyString(v decimal.Decimal) string {
	return v.String()
}

func parseMoney(raw string) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}

type productDocument struct {
	Code             string    `firestore:"code"`
	Name             string    `firestore:"name"`
	Price            string    `firestore:"price"`
	Stock            int       `firestore:"stock"`
	SubscriptionDays int       `firestore:"subscriptionDays"`
	CategoryID       string    `firestore:"categoryId,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Code:             p.Code,
		Name:             p.Name,
		Price:            moneyString(p.Price),
		Stock:            p.Stock,
		SubscriptionDays: p.SubscriptionDays,
		CategoryID:       p.CategoryID,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:               id,
		Code:             d.Code,
		Name:             d.Name,
		Price:            parseMoney(d.Price),
		Stock:            d.Stock,
		SubscriptionDays: d.SubscriptionDays,
		CategoryID:       d.CategoryID,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

type userDocument struct {
	Email       string    `firestore:"email,omitempty"`
	PhoneNumber string    `firestore:"phoneNumber,omitempty"`
	DisplayName string    `firestore:"displayName,omitempty"`
	TotalSpent  string    `firestore:"totalSpent"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newUserDocument(u domain.User) userDocument {
	return userDocument{
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		DisplayName: u.DisplayName,
		TotalSpent:  moneyString(u.TotalSpent),
		CreatedAt:   u.CreatedAt.UTC(),
		UpdatedAt:   u.UpdatedAt.UTC(),
	}
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:          id,
		Email:       d.Email,
		PhoneNumber: d.PhoneNumber,
		DisplayName: d.DisplayName,
		TotalSpent:  parseMoney(d.TotalSpent),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type anonymousUserDocument struct {
	Name        string    `firestore:"name,omitempty"`
	Email       string    `firestore:"email,omitempty"`
	EmailLower  string    `firestore:"emailLower,omitempty"`
	PhoneNumber string    `firestore:"phoneNumber,omitempty"`
	IPAddress   string    `firestore:"ipAddress,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func newAnonymousUserDocument(u domain.AnonymousUser) anonymousUserDocument {
	return anonymousUserDocument{
		Name:        u.Name,
		Email:       u.Email,
		EmailLower:  strings.ToLower(u.Email),
		PhoneNumber: u.PhoneNumber,
		IPAddress:   u.IPAddress,
		CreatedAt:   u.CreatedAt.UTC(),
	}
}

func (d anonymousUserDocument) toDomain(id string) domain.AnonymousUser {
	return domain.AnonymousUser{
		ID:          id,
		Name:        d.Name,
		Email:       d.Email,
		PhoneNumber: d.PhoneNumber,
		IPAddress:   d.IPAddress,
		CreatedAt:   d.CreatedAt,
	}
}

type cartItemDocument struct {
	ProductID   string    `firestore:"productId"`
	ProductCode string    `firestore:"productCode"`
	ProductName string    `firestore:"productName"`
	Quantity    int       `firestore:"quantity"`
	UnitPrice   string    `firestore:"unitPrice"`
	AddedAt     time.Time `firestore:"addedAt"`
}

type cartDocument struct {
	UserID          string             `firestore:"userId,omitempty"`
	AnonymousUserID string             `firestore:"anonymousUserId,omitempty"`
	Items           []cartItemDocument `firestore:"items"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

func newCartDocument(c domain.Cart) cartDocument {
	doc := cartDocument{
		UserID:          c.UserID,
		AnonymousUserID: c.AnonymousUserID,
		Items:           make([]cartItemDocument, 0, len(c.Items)),
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
	for _, item := range c.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID:   item.ProductID,
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   moneyString(item.UnitPrice),
			AddedAt:     item.AddedAt.UTC(),
		})
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:              id,
		UserID:          d.UserID,
		AnonymousUserID: d.AnonymousUserID,
		Items:           make([]domain.CartItem, 0, len(d.Items)),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:   item.ProductID,
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   parseMoney(item.UnitPrice),
			AddedAt:     item.AddedAt,
		})
	}
	return cart
}

type collaboratorDocument struct {
	UserID                string    `firestore:"userId"`
	Email                 string    `firestore:"email,omitempty"`
	ReferralCode          string    `firestore:"referralCode"`
	CommissionRate        string    `firestore:"commissionRate"`
	TotalOrdersHandled    int       `firestore:"totalOrdersHandled"`
	TotalSurveysHandled   int       `firestore:"totalSurveysHandled"`
	TotalCommissionEarned string    `firestore:"totalCommissionEarned"`
	CreatedAt             time.Time `firestore:"createdAt"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

func newCollaboratorDocument(c domain.Collaborator) collaboratorDocument {
	return collaboratorDocument{
		UserID:                c.UserID,
		Email:                 c.Email,
		ReferralCode:          c.ReferralCode,
		CommissionRate:        moneyString(c.CommissionRate),
		TotalOrdersHandled:    c.TotalOrdersHandled,
		TotalSurveysHandled:   c.TotalSurveysHandled,
		TotalCommissionEarned: moneyString(c.TotalCommissionEarned),
		CreatedAt:             c.CreatedAt.UTC(),
		UpdatedAt:             c.UpdatedAt.UTC(),
	}
}

func (d collaboratorDocument) toDomain(id string) domain.Collaborator {
	return domain.Collaborator{
		ID:                    id,
		UserID:                d.UserID,
		Email:                 d.Email,
		ReferralCode:          d.ReferralCode,
		CommissionRate:        parseMoney(d.CommissionRate),
		TotalOrdersHandled:    d.TotalOrdersHandled,
		TotalSurveysHandled:   d.TotalSurveysHandled,
		TotalCommissionEarned: parseMoney(d.TotalCommissionEarned),
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

// commissionDocument is keyed by order id, which makes one commission per order a storage invariant.
type commissionDocument struct {
	ID             string    `firestore:"id"`
	CollaboratorID string    `firestore:"collaboratorId"`
	Amount         string    `firestore:"amount"`
	Status         string    `firestore:"status"`
	EarnedAt       time.Time `firestore:"earnedAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func newCommissionDocument(c domain.Commission) commissionDocument {
	return commissionDocument{
		ID:             c.ID,
		CollaboratorID: c.CollaboratorID,
		Amount:         moneyString(c.Amount),
		Status:         string(c.Status),
		EarnedAt:       c.EarnedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
}

func (d commissionDocument) toDomain(orderID string) domain.Commission {
	return domain.Commission{
		ID:             d.ID,
		OrderID:        orderID,
		CollaboratorID: d.CollaboratorID,
		Amount:         parseMoney(d.Amount),
		Status:         domain.OrderStatus(d.Status),
		EarnedAt:       d.EarnedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type orderItemDocument struct {
	ID               string    `firestore:"id"`
	ProductID        string    `firestore:"productId"`
	ProductCode      string    `firestore:"productCode"`
	ProductName      string    `firestore:"productName"`
	Quantity         int       `firestore:"quantity"`
	UnitPrice        string    `firestore:"unitPrice"`
	SubscriptionDays int       `firestore:"subscriptionDays"`
	ExpiryDate       time.Time `firestore:"expiryDate"`
}

type orderDocument struct {
	UserID           string              `firestore:"userId,omitempty"`
	AnonymousUserID  string              `firestore:"anonymousUserId,omitempty"`
	CollaboratorID   string              `firestore:"collaboratorId,omitempty"`
	Status           string              `firestore:"status"`
	Items            []orderItemDocument `firestore:"items"`
	Total            string              `firestore:"total"`
	OrderDate        time.Time           `firestore:"orderDate"`
	StartDate        *time.Time          `firestore:"startDate,omitempty"`
	EndDate          *time.Time          `firestore:"endDate,omitempty"`
	ReferralCodeUsed string              `firestore:"referralCodeUsed,omitempty"`
	// MaxExpiry lets the expiry sweep narrow its scan with a single range filter.
	MaxExpiry time.Time `firestore:"maxExpiry"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		UserID:           o.UserID,
		AnonymousUserID:  o.AnonymousUserID,
		CollaboratorID:   o.CollaboratorID,
		Status:           string(o.Status),
		Items:            make([]orderItemDocument, 0, len(o.Items)),
		Total:            moneyString(o.Total),
		OrderDate:        o.OrderDate.UTC(),
		StartDate:        utcPtr(o.StartDate),
		EndDate:          utcPtr(o.EndDate),
		ReferralCodeUsed: o.ReferralCodeUsed,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
	}
	for _, item := range o.Items {
		expiry := item.ExpiryDate.UTC()
		if expiry.After(doc.MaxExpiry) {
			doc.MaxExpiry = expiry
		}
		doc.Items = append(doc.Items, orderItemDocument{
			ID:               item.ID,
			ProductID:        item.ProductID,
			ProductCode:      item.ProductCode,
			ProductName:      item.ProductName,
			Quantity:         item.Quantity,
			UnitPrice:        moneyString(item.UnitPrice),
			SubscriptionDays: item.SubscriptionDays,
			ExpiryDate:       expiry,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:               id,
		UserID:           d.UserID,
		AnonymousUserID:  d.AnonymousUserID,
		CollaboratorID:   d.CollaboratorID,
		Status:           domain.OrderStatus(d.Status),
		Items:            make([]domain.OrderItem, 0, len(d.Items)),
		Total:            parseMoney(d.Total),
		OrderDate:        d.OrderDate,
		StartDate:        utcPtr(d.StartDate),
		EndDate:          utcPtr(d.EndDate),
		ReferralCodeUsed: d.ReferralCodeUsed,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:               item.ID,
			ProductID:        item.ProductID,
			ProductCode:      item.ProductCode,
			ProductName:      item.ProductName,
			Quantity:         item.Quantity,
			UnitPrice:        parseMoney(item.UnitPrice),
			SubscriptionDays: item.SubscriptionDays,
			ExpiryDate:       item.ExpiryDate,
		})
	}
	return order
}

type surveyDocument struct {
	UserID         string     `firestore:"userId"`
	CollaboratorID string     `firestore:"collaboratorId,omitempty"`
	Status         string     `firestore:"status"`
	Question       string     `firestore:"question"`
	Response       string     `firestore:"response,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	RespondedAt    *time.Time `firestore:"respondedAt,omitempty"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

func newSurveyDocument(v domain.Survey) surveyDocument {
	return surveyDocument{
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

func (d surveyDocument) toDomain(id string) domain.Survey {
	return domain.Survey{
		ID:             id,
		UserID:         d.UserID,
		CollaboratorID: d.CollaboratorID,
		Status:         domain.OrderStatus(d.Status),
		Question:       d.Question,
		Response:       d.Response,
		CreatedAt:      d.CreatedAt,
		RespondedAt:    utcPtr(d.RespondedAt),
		UpdatedAt:      d.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
