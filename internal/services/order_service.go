package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/textutil"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventMapped        = "order.anonymous.mapped"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Carts          repositories.CartRepository
	Users          repositories.UserRepository
	AnonymousUsers repositories.AnonymousUserRepository
	Collaborators  repositories.CollaboratorRepository
	Stock          StockLedger
	CartService    CartService
	Directory      CollaboratorService
	Commissions    CommissionLedger
	UnitOfWork     repositories.UnitOfWork
	CancelWindow   time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Events         OrderEventPublisher
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	carts         repositories.CartRepository
	users         repositories.UserRepository
	anonymous     repositories.AnonymousUserRepository
	collaborators repositories.CollaboratorRepository
	stock         StockLedger
	cartService   CartService
	directory     CollaboratorService
	commissions   CommissionLedger
	uow           repositories.UnitOfWork
	cancelWindow  time.Duration
	clock         func() time.Time
	newID         func() string
	events        OrderEventPublisher
	logger        func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires the order lifecycle engine.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Carts == nil || deps.Users == nil || deps.AnonymousUsers == nil || deps.Collaborators == nil:
		return nil, errors.New("order service: cart, user and collaborator repositories are required")
	case deps.Stock == nil:
		return nil, errors.New("order service: stock ledger is required")
	case deps.CartService == nil:
		return nil, errors.New("order service: cart service is required")
	case deps.Directory == nil:
		return nil, errors.New("order service: collaborator service is required")
	case deps.Commissions == nil:
		return nil, errors.New("order service: commission ledger is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("order service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	window := deps.CancelWindow
	if window <= 0 {
		window = domain.CancelTimeLimit
	}

	return &orderService{
		orders:        deps.Orders,
		carts:         deps.Carts,
		users:         deps.Users,
		anonymous:     deps.AnonymousUsers,
		collaborators: deps.Collaborators,
		stock:         deps.Stock,
		cartService:   deps.CartService,
		directory:     deps.Directory,
		commissions:   deps.Commissions,
		uow:           deps.UnitOfWork,
		cancelWindow:  window,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		events:        deps.Events,
		logger:        logger,
	}, nil
}

// orderLine is a priced line ready to be reserved and persisted.
type orderLine struct {
	productCode string
	quantity    int
	unitPrice   decimal.Decimal
	// fromSnapshot keeps the cart price instead of the live product price.
	fromSnapshot bool
}

func (s *orderService) BuyNow(ctx context.Context, caller Caller, cmd BuyNowCommand) (OrderView, error) {
	if cmd.Quantity <= 0 {
		return OrderView{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	if strings.TrimSpace(cmd.ProductCode) == "" {
		return OrderView{}, fmt.Errorf("%w: product code is required", ErrInvalidInput)
	}
	customer, err := s.validateCustomer(caller, cmd.Customer)
	if err != nil {
		return OrderView{}, err
	}

	var placed placedOrder
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.prepareCaller(txCtx, caller); err != nil {
			return err
		}
		lines := []orderLine{{productCode: strings.TrimSpace(cmd.ProductCode), quantity: cmd.Quantity}}
		placed, err = s.place(txCtx, caller, customer, lines, cmd.ReferralCode)
		return err
	})
	if err != nil {
		return OrderView{}, err
	}
	return s.afterPlacement(ctx, caller, placed), nil
}

func (s *orderService) CreateFromCart(ctx context.Context, caller Caller, cmd CheckoutCommand) (OrderView, error) {
	customer, err := s.validateCustomer(caller, cmd.Customer)
	if err != nil {
		return OrderView{}, err
	}

	var placed placedOrder
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.prepareCaller(txCtx, caller); err != nil {
			return err
		}
		cartResult, err := s.cartService.Get(txCtx, caller)
		if err != nil {
			return err
		}
		if cartResult.Empty || len(cartResult.Cart.Items) == 0 {
			return ErrCartEmpty
		}
		cart := cartResult.Cart

		lines := make([]orderLine, 0, len(cart.Items))
		for _, item := range cart.Items {
			if item.Quantity <= 0 {
				return fmt.Errorf("%w: cart line %s", ErrInvalidQuantity, item.ProductCode)
			}
			lines = append(lines, orderLine{
				productCode:  item.ProductCode,
				quantity:     item.Quantity,
				unitPrice:    item.UnitPrice,
				fromSnapshot: true,
			})
		}

		placed, err = s.place(txCtx, caller, customer, lines, cmd.ReferralCode)
		if err != nil {
			return err
		}
		if err := s.carts.Delete(txCtx, cart.ID); err != nil {
			return mapRepositoryError(err, nil)
		}
		return nil
	})
	if err != nil {
		return OrderView{}, err
	}
	return s.afterPlacement(ctx, caller, placed), nil
}

// prepareCaller runs the authenticated pre-steps inside the placement transaction.
func (s *orderService) prepareCaller(ctx context.Context, caller Caller) error {
	if !caller.Authenticated() {
		return nil
	}
	if err := s.ensureUser(ctx, caller); err != nil {
		return err
	}
	if _, err := s.mapAnonymousOrders(ctx, caller); err != nil {
		return err
	}
	_, err := s.cartService.MergeAnonymousIntoUser(ctx, caller.IP, caller.UserID)
	return err
}

type placedOrder struct {
	order   Order
	parties OrderParties
}

// place reserves stock, prices the order, assigns a collaborator and persists the order and its
// commission. It must run inside a transaction.
func (s *orderService) place(ctx context.Context, caller Caller, customer Customer, lines []orderLine, referralCode string) (placedOrder, error) {
	stockLines := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		stockLines = append(stockLines, StockLine{ProductCode: line.productCode, Quantity: line.quantity})
	}
	if _, err := s.stock.Reserve(ctx, stockLines); err != nil {
		return placedOrder{}, err
	}

	now := s.clock()
	order := Order{
		ID:        orderIDPrefix + s.newID(),
		Status:    domain.OrderStatusOpen,
		OrderDate: now,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make([]OrderItem, 0, len(lines)),
	}
	for _, line := range lines {
		product, err := s.stock.FindByCode(ctx, line.productCode)
		if err != nil {
			return placedOrder{}, err
		}
		price := product.Price
		if line.fromSnapshot {
			price = line.unitPrice
		}
		order.Items = append(order.Items, OrderItem{
			ID:               orderItemIDPrefix + s.newID(),
			ProductID:        product.ID,
			ProductCode:      product.Code,
			ProductName:      product.Name,
			Quantity:         line.quantity,
			UnitPrice:        price,
			SubscriptionDays: product.SubscriptionDays,
			ExpiryDate:       domain.AddDays(now, product.SubscriptionDays),
		})
	}

	var (
		collaborator Collaborator
		err          error
	)
	referralCode = strings.TrimSpace(referralCode)
	if referralCode != "" {
		collaborator, err = s.directory.FindByReferralCode(ctx, referralCode)
		order.ReferralCodeUsed = collaborator.ReferralCode
	} else {
		collaborator, err = s.directory.SelectLeastLoaded(ctx)
	}
	if err != nil {
		return placedOrder{}, err
	}
	pricing := domain.PriceOrder(order.Subtotal(), referralCode != "", collaborator.CommissionRate)
	order.Total = pricing.Total
	order.CollaboratorID = collaborator.ID

	parties := OrderParties{Collaborator: &collaborator}
	if caller.Authenticated() {
		order.UserID = caller.UserID
		if user, err := s.users.FindByID(ctx, caller.UserID); err == nil {
			parties.User = &user
		}
	} else {
		guest, err := s.resolveGuest(ctx, caller, customer)
		if err != nil {
			return placedOrder{}, err
		}
		order.AnonymousUserID = guest.ID
		parties.AnonymousUser = &guest
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return placedOrder{}, mapRepositoryError(err, nil)
	}
	if _, err := s.commissions.Create(ctx, order, collaborator, pricing.Commission); err != nil {
		return placedOrder{}, err
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":        order.ID,
		"collaboratorId": collaborator.ID,
		"referral":       pricing.Referral,
		"total":          order.Total.String(),
		"commission":     pricing.Commission.String(),
	})
	return placedOrder{order: order, parties: parties}, nil
}

func (s *orderService) afterPlacement(ctx context.Context, caller Caller, placed placedOrder) OrderView {
	s.publish(ctx, orderEventCreated, "", placed.order, caller.UserID)
	return ProjectOrder(placed.order, placed.parties, projectionRole(caller))
}

func (s *orderService) validateCustomer(caller Caller, customer *Customer) (Customer, error) {
	if caller.Authenticated() {
		return Customer{}, nil
	}
	if customer == nil {
		return Customer{}, ErrInvalidCustomer
	}
	out := Customer{
		Name:  textutil.PlainText(customer.Name),
		Email: strings.ToLower(strings.TrimSpace(customer.Email)),
		Phone: strings.TrimSpace(customer.Phone),
	}
	if out.Name == "" || out.Email == "" || out.Phone == "" || !strings.Contains(out.Email, "@") {
		return Customer{}, ErrInvalidCustomer
	}
	return out, nil
}

// resolveGuest finds or creates the anonymous user for the contact details. A known guest
// keeps the IP recorded when it was created.
func (s *orderService) resolveGuest(ctx context.Context, caller Caller, customer Customer) (domain.AnonymousUser, error) {
	guest, err := s.anonymous.FindByContact(ctx, customer.Name, customer.Email, customer.Phone)
	if err == nil {
		return guest, nil
	}
	if !repositories.IsNotFound(err) {
		return domain.AnonymousUser{}, mapRepositoryError(err, nil)
	}
	guest = domain.AnonymousUser{
		ID:          anonymousUserIDPrefix + s.newID(),
		Name:        customer.Name,
		Email:       customer.Email,
		PhoneNumber: customer.Phone,
		IPAddress:   caller.IP,
		CreatedAt:   s.clock(),
	}
	if err := s.anonymous.Insert(ctx, guest); err != nil {
		return domain.AnonymousUser{}, mapRepositoryError(err, nil)
	}
	return guest, nil
}

// ensureUser creates the profile for a first-time authenticated caller.
func (s *orderService) ensureUser(ctx context.Context, caller Caller) error {
	if caller.Role != domain.RoleUser {
		return nil
	}
	_, err := s.users.FindByID(ctx, caller.UserID)
	if err == nil {
		return nil
	}
	if !repositories.IsNotFound(err) {
		return mapRepositoryError(err, nil)
	}
	now := s.clock()
	return mapRepositoryError(s.users.Save(ctx, User{
		ID:          caller.UserID,
		Email:       caller.Email,
		PhoneNumber: caller.Phone,
		TotalSpent:  decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}), nil)
}

func (s *orderService) publish(ctx context.Context, eventType string, previous OrderStatus, order Order, actorID string) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		CollaboratorID: order.CollaboratorID,
		UserID:         order.UserID,
		PreviousStatus: previous,
		Status:         order.Status,
		Total:          order.Total,
		ActorID:        actorID,
		OccurredAt:     order.UpdatedAt,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

// projectionRole maps callers without a known role onto the anonymous projection.
func projectionRole(caller Caller) domain.Role {
	switch caller.Role {
	case domain.RoleAdmin, domain.RoleCollaborator, domain.RoleUser:
		return caller.Role
	}
	return domain.RoleAnonymous
}
