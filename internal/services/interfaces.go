package services

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Collaborator       = domain.Collaborator
	Commission         = domain.Commission
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	User               = domain.User
	Survey             = domain.Survey
	SystemHealthReport = domain.SystemHealthReport
)

// StockLedger owns product lookup and atomic stock movements.
type StockLedger interface {
	FindByCode(ctx context.Context, code string) (Product, error)
	FindByID(ctx context.Context, productID string) (Product, error)
	// Reserve decrements stock for every line or none. It joins the caller's transaction.
	Reserve(ctx context.Context, lines []StockLine) ([]Product, error)
	// Release returns stock for every line. It joins the caller's transaction.
	Release(ctx context.Context, lines []StockLine) error
	CreateProduct(ctx context.Context, caller Caller, cmd CreateProductCommand) (Product, error)
	AdjustStock(ctx context.Context, caller Caller, code string, delta int) (Product, error)
	ListProducts(ctx context.Context, caller Caller, pager Pagination) (domain.CursorPage[Product], error)
}

// CartService consolidates anonymous and user carts.
type CartService interface {
	GetOrCreateAnonymousCart(ctx context.Context, ip string) (Cart, error)
	MergeAnonymousIntoUser(ctx context.Context, ip, userID string) (Cart, error)
	Get(ctx context.Context, caller Caller) (CartResult, error)
	Add(ctx context.Context, caller Caller, productCode string, quantity int) (CartResult, error)
	Remove(ctx context.Context, caller Caller, productCode string, quantity int) (CartResult, error)
}

// CollaboratorService is the collaborator directory and least-loaded balancer.
type CollaboratorService interface {
	FindByReferralCode(ctx context.Context, code string) (Collaborator, error)
	SelectLeastLoaded(ctx context.Context) (Collaborator, error)
	Create(ctx context.Context, caller Caller, cmd CreateCollaboratorCommand) (Collaborator, error)
	Get(ctx context.Context, caller Caller, collaboratorID string) (Collaborator, error)
	GetByUser(ctx context.Context, caller Caller, userID string) (Collaborator, error)
	List(ctx context.Context, caller Caller, pager Pagination) (domain.CursorPage[Collaborator], error)
	UpdateCommissionRate(ctx context.Context, caller Caller, collaboratorID string, rate decimal.Decimal) (Collaborator, error)
}

// CommissionLedger records commissions and keeps collaborator counters in step.
type CommissionLedger interface {
	Create(ctx context.Context, order Order, collaborator Collaborator, amount decimal.Decimal) (Commission, error)
	SyncStatus(ctx context.Context, orderID string, status OrderStatus) (Commission, error)
	RecordCompletion(ctx context.Context, orderID string) (Commission, error)
	ListByCollaborator(ctx context.Context, caller Caller, collaboratorID string, pager Pagination) (domain.CursorPage[Commission], error)
}

// OrderService drives order placement and the order lifecycle.
type OrderService interface {
	BuyNow(ctx context.Context, caller Caller, cmd BuyNowCommand) (OrderView, error)
	CreateFromCart(ctx context.Context, caller Caller, cmd CheckoutCommand) (OrderView, error)
	Process(ctx context.Context, caller Caller, orderID, collaboratorID string) (OrderView, error)
	Complete(ctx context.Context, caller Caller, orderID, collaboratorID string) (OrderView, error)
	Cancel(ctx context.Context, caller Caller, orderID string) (OrderView, error)
	Get(ctx context.Context, caller Caller, orderID string) (OrderView, error)
	ListByUser(ctx context.Context, caller Caller, userID string, pager Pagination) (domain.CursorPage[OrderView], error)
	ListByCollaborator(ctx context.Context, caller Caller, collaboratorID string, pager Pagination) (domain.CursorPage[OrderView], error)
	ListAll(ctx context.Context, caller Caller, filter domain.OrderFilter, pager Pagination) (domain.CursorPage[OrderView], error)
	AnonymousHistory(ctx context.Context, email, phone string) ([]OrderView, error)
	ServiceDates(ctx context.Context, caller Caller, userID string, pager Pagination) (domain.CursorPage[ServiceDate], error)
	// MapAnonymousOrders re-parents guest orders matching the caller's IP, email or phone.
	MapAnonymousOrders(ctx context.Context, caller Caller) (int, error)
}

// UserService maintains customer profiles keyed by identity principal.
type UserService interface {
	EnsureProfile(ctx context.Context, caller Caller) (User, error)
	GetProfile(ctx context.Context, caller Caller, userID string) (User, error)
}

// SurveyService runs customer surveys from submission to completion.
type SurveyService interface {
	Submit(ctx context.Context, caller Caller, userID, question string) (SurveyView, error)
	ListByUser(ctx context.Context, caller Caller, userID string, pager Pagination) (domain.CursorPage[SurveyView], error)
	ListAll(ctx context.Context, caller Caller, pager Pagination) (domain.CursorPage[SurveyView], error)
	Handle(ctx context.Context, caller Caller, collaboratorID string, surveyIDs []string) ([]SurveyView, error)
	Respond(ctx context.Context, caller Caller, surveyID, collaboratorID, response string) (SurveyView, error)
	Complete(ctx context.Context, caller Caller, surveyID string) (SurveyView, error)
}

// ExpiryNotifier notifies parties about subscriptions that are about to expire.
type ExpiryNotifier interface {
	Sweep(ctx context.Context, now time.Time) (ExpirySweepResult, error)
}

// OrderExporter renders order listings as spreadsheets.
type OrderExporter interface {
	ExportOrders(ctx context.Context, caller Caller, filter domain.OrderFilter, w io.Writer) (int, error)
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier delivers a fire-and-forget message to an address.
type Notifier interface {
	Notify(ctx context.Context, address, subject, body string) error
}

// RoleGranter attaches a role claim to an identity-provider account so the next issued token
// carries it.
type RoleGranter interface {
	GrantRole(ctx context.Context, uid, role string) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StockLine requests a stock movement for one product. Either ProductID or ProductCode is set.
type StockLine struct {
	ProductID   string
	ProductCode string
	Quantity    int
}

// CreateProductCommand registers a catalog product.
type CreateProductCommand struct {
	Name             string
	CategoryID       string
	CategoryName     string
	Price            decimal.Decimal
	Stock            int
	SubscriptionDays int
}

// CartResult reports the cart after a mutation. Empty is set when the cart was deleted.
type CartResult struct {
	Cart  Cart
	Empty bool
}

// CreateCollaboratorCommand registers a collaborator for an existing user.
type CreateCollaboratorCommand struct {
	UserID         string
	Email          string
	ReferralCode   string
	CommissionRate decimal.Decimal
}

// Customer carries contact details required for anonymous orders.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// BuyNowCommand places an order for a single product.
type BuyNowCommand struct {
	ProductCode  string
	Quantity     int
	ReferralCode string
	Customer     *Customer
}

// CheckoutCommand places an order for the caller's cart.
type CheckoutCommand struct {
	ReferralCode string
	Customer     *Customer
}

// ServiceDate reports when the subscription bought by an order expires.
type ServiceDate struct {
	OrderID     string      `json:"orderId"`
	ProductCode string      `json:"productCode"`
	ProductName string      `json:"productName"`
	Status      OrderStatus `json:"status"`
	OrderDate   time.Time   `json:"orderDate"`
	ExpiryDate  time.Time   `json:"expiryDate"`
}

// ExpirySweepResult summarises a notification sweep.
type ExpirySweepResult struct {
	Orders int
	Items  int
	Sent   int
	Failed int
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string          `json:"type"`
	OrderID        string          `json:"orderId"`
	CollaboratorID string          `json:"collaboratorId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	PreviousStatus OrderStatus     `json:"previousStatus,omitempty"`
	Status         OrderStatus     `json:"status"`
	Total          decimal.Decimal `json:"total"`
	ActorID        string          `json:"actorId,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}
