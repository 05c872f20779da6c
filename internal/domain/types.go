package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role identifies the caller class used for authorization and response projection.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleCollaborator Role = "collaborator"
	RoleUser         Role = "user"
	RoleAnonymous    Role = "anonymous"
)

// Product is the catalog entry consumed by the stock ledger.
type Product struct {
	ID               string
	Code             string
	Name             string
	Price            decimal.Decimal
	Stock            int
	SubscriptionDays int
	CategoryID       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User is a registered customer profile keyed by the identity principal.
type User struct {
	ID          string
	Email       string
	PhoneNumber string
	DisplayName string
	TotalSpent  decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AnonymousUser correlates guest carts (by IP) and guest orders (by name, email, phone).
type AnonymousUser struct {
	ID          string
	Name        string
	Email       string
	PhoneNumber string
	IPAddress   string
	CreatedAt   time.Time
}

// Collaborator fulfils orders and earns commission. ReferralCode never changes once assigned.
type Collaborator struct {
	ID                    string
	UserID                string
	Email                 string
	ReferralCode          string
	CommissionRate        decimal.Decimal
	TotalOrdersHandled    int
	TotalSurveysHandled   int
	TotalCommissionEarned decimal.Decimal
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Commission is tied 1:1 to an order and mirrors its status.
type Commission struct {
	ID             string
	OrderID        string
	CollaboratorID string
	Amount         decimal.Decimal
	Status         OrderStatus
	EarnedAt       time.Time
	UpdatedAt      time.Time
}

// Cart belongs to exactly one of a user or an anonymous user.
type Cart struct {
	ID              string
	UserID          string
	AnonymousUserID string
	Items           []CartItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartItem stores a product line with the price captured when first added.
type CartItem struct {
	ProductID   string
	ProductCode string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	AddedAt     time.Time
}

// FindItem returns the index of the line for the product code, or -1.
func (c Cart) FindItem(productCode string) int {
	for i, item := range c.Items {
		if item.ProductCode == productCode {
			return i
		}
	}
	return -1
}

// IsAnonymous reports whether the cart is keyed by an anonymous user.
func (c Cart) IsAnonymous() bool {
	return c.UserID == "" && c.AnonymousUserID != ""
}

// Order is created at checkout and driven through the lifecycle state machine.
type Order struct {
	ID               string
	UserID           string
	AnonymousUserID  string
	CollaboratorID   string
	Status           OrderStatus
	Items            []OrderItem
	Total            decimal.Decimal
	OrderDate        time.Time
	StartDate        *time.Time
	EndDate          *time.Time
	ReferralCodeUsed string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderItem snapshots the unit price at order time.
type OrderItem struct {
	ID               string
	ProductID        string
	ProductCode      string
	ProductName      string
	Quantity         int
	UnitPrice        decimal.Decimal
	SubscriptionDays int
	ExpiryDate       time.Time
}

// Subtotal returns the undiscounted sum of unit price times quantity.
func (o Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

// IsAnonymous reports whether the order is still owned by an anonymous user.
func (o Order) IsAnonymous() bool {
	return o.UserID == "" && o.AnonymousUserID != ""
}

// OrderFilter narrows admin listings.
type OrderFilter struct {
	Status *OrderStatus
}

// Survey is a customer question answered by a collaborator. It moves open, then
// in_progress once a collaborator takes it, then complete.
type Survey struct {
	ID             string
	UserID         string
	CollaboratorID string
	Status         OrderStatus
	Question       string
	Response       string
	CreatedAt      time.Time
	RespondedAt    *time.Time
	UpdatedAt      time.Time
}
