package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
	"github.com/YunomiXavia/beQuanTri/internal/repositories/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%04d", s.n)
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

// orderStack is the set of services behind order placement, wired against one registry.
type orderStack struct {
	stock         StockLedger
	carts         CartService
	collaborators CollaboratorService
	commissions   CommissionLedger
	orders        OrderService
}

type orderFixture struct {
	store  *memory.Store
	clock  *testClock
	events *captureOrderEvents
	orderStack
}

var fixtureStart = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	store := memory.NewStore()
	clock := &testClock{now: fixtureStart}
	events := &captureOrderEvents{}
	return &orderFixture{
		store:      store,
		clock:      clock,
		events:     events,
		orderStack: newOrderStack(t, store, clock.Now, (&sequenceIDs{}).Next, events),
	}
}

func newOrderStack(t *testing.T, reg repositories.Registry, clock func() time.Time, ids func() string, events OrderEventPublisher) orderStack {
	t.Helper()

	stock, err := NewStockLedger(StockLedgerDeps{
		Products:    reg.Products(),
		UnitOfWork:  reg,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("NewStockLedger: %v", err)
	}
	carts, err := NewCartService(CartServiceDeps{
		Carts:          reg.Carts(),
		AnonymousUsers: reg.AnonymousUsers(),
		Stock:          stock,
		UnitOfWork:     reg,
		Clock:          clock,
		IDGenerator:    ids,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	directory, err := NewCollaboratorService(CollaboratorServiceDeps{
		Collaborators: reg.Collaborators(),
		UnitOfWork:    reg,
		Clock:         clock,
		IDGenerator:   ids,
	})
	if err != nil {
		t.Fatalf("NewCollaboratorService: %v", err)
	}
	ledger, err := NewCommissionLedger(CommissionLedgerDeps{
		Commissions:   reg.Commissions(),
		Collaborators: reg.Collaborators(),
		UnitOfWork:    reg,
		Clock:         clock,
		IDGenerator:   ids,
	})
	if err != nil {
		t.Fatalf("NewCommissionLedger: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:         reg.Orders(),
		Carts:          reg.Carts(),
		Users:          reg.Users(),
		AnonymousUsers: reg.AnonymousUsers(),
		Collaborators:  reg.Collaborators(),
		Stock:          stock,
		CartService:    carts,
		Directory:      directory,
		Commissions:    ledger,
		UnitOfWork:     reg,
		Clock:          clock,
		IDGenerator:    ids,
		Events:         events,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return orderStack{
		stock:         stock,
		carts:         carts,
		collaborators: directory,
		commissions:   ledger,
		orders:        orders,
	}
}

func (f *orderFixture) seedProduct(t *testing.T, code string, price string, stock, days int) domain.Product {
	t.Helper()
	product := domain.Product{
		ID:               "prd-" + code,
		Code:             code,
		Name:             "Product " + code,
		Price:            decimal.RequireFromString(price),
		Stock:            stock,
		SubscriptionDays: days,
		CreatedAt:        fixtureStart,
		UpdatedAt:        fixtureStart,
	}
	if err := f.store.Products().Insert(context.Background(), product); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

func (f *orderFixture) seedCollaborator(t *testing.T, id, userID, code, rate string, handled int, createdAt time.Time) domain.Collaborator {
	t.Helper()
	collaborator := domain.Collaborator{
		ID:                    id,
		UserID:                userID,
		Email:                 userID + "@example.com",
		ReferralCode:          code,
		CommissionRate:        decimal.RequireFromString(rate),
		TotalOrdersHandled:    handled,
		TotalCommissionEarned: decimal.Zero,
		CreatedAt:             createdAt,
		UpdatedAt:             createdAt,
	}
	if err := f.store.Collaborators().Insert(context.Background(), collaborator); err != nil {
		t.Fatalf("seed collaborator: %v", err)
	}
	return collaborator
}

func (f *orderFixture) productStock(t *testing.T, code string) int {
	t.Helper()
	product, err := f.store.Products().FindByCode(context.Background(), code)
	if err != nil {
		t.Fatalf("find product %s: %v", code, err)
	}
	return product.Stock
}

func (f *orderFixture) collaborator(t *testing.T, id string) domain.Collaborator {
	t.Helper()
	collaborator, err := f.store.Collaborators().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find collaborator %s: %v", id, err)
	}
	return collaborator
}

func userCaller(id string) Caller {
	return Caller{UserID: id, Role: domain.RoleUser, Email: id + "@example.com"}
}

func adminCaller() Caller {
	return Caller{UserID: "admin-1", Role: domain.RoleAdmin}
}

func collaboratorCaller(userID string) Caller {
	return Caller{UserID: userID, Role: domain.RoleCollaborator}
}

func mustDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("expected %s, got %s", want, got.String())
	}
}
