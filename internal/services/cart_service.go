package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const (
	cartIDPrefix          = "crt_"
	anonymousUserIDPrefix = "anu_"

	eventCartMerged = "cart.merged"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartLedgerRequired     = errors.New("cart service: stock ledger is required")
)

// CartServiceDeps wires the repositories and stock ledger for cart operations.
type CartServiceDeps struct {
	Carts          repositories.CartRepository
	AnonymousUsers repositories.AnonymousUserRepository
	Stock          StockLedger
	UnitOfWork     repositories.UnitOfWork
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(context.Context, string, map[string]any)
}

type cartService struct {
	carts     repositories.CartRepository
	anonymous repositories.AnonymousUserRepository
	stock     StockLedger
	uow       repositories.UnitOfWork
	newID     func() string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil || deps.AnonymousUsers == nil || deps.UnitOfWork == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Stock == nil {
		return nil, errCartLedgerRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &cartService{
		carts:     deps.Carts,
		anonymous: deps.AnonymousUsers,
		stock:     deps.Stock,
		uow:       deps.UnitOfWork,
		newID:     idGen,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// GetOrCreateAnonymousCart loads the cart bound to the IP, creating the guest and the cart when absent.
func (s *cartService) GetOrCreateAnonymousCart(ctx context.Context, ip string) (Cart, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return Cart{}, fmt.Errorf("%w: ip address is required", ErrInvalidInput)
	}
	var cart Cart
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		guest, err := s.guestByIP(txCtx, ip, true)
		if err != nil {
			return err
		}
		found, ok, err := s.findCart(txCtx, "", guest.ID)
		if err != nil {
			return err
		}
		if ok {
			cart = found
			return nil
		}
		cart = s.newCart("", guest.ID)
		return mapRepositoryError(s.carts.Save(txCtx, cart), nil)
	})
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// MergeAnonymousIntoUser folds the IP-bound guest cart into the user's cart and deletes the guest cart.
func (s *cartService) MergeAnonymousIntoUser(ctx context.Context, ip, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	var cart Cart
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		cart, _, err = s.merge(txCtx, strings.TrimSpace(ip), userID)
		return err
	})
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) Get(ctx context.Context, caller Caller) (CartResult, error) {
	var result CartResult
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		cart, ok, err := s.callerCart(txCtx, caller, false)
		if err != nil {
			return err
		}
		result = CartResult{Cart: cart, Empty: !ok || len(cart.Items) == 0}
		return nil
	})
	if err != nil {
		return CartResult{}, err
	}
	return result, nil
}

func (s *cartService) Add(ctx context.Context, caller Caller, productCode string, quantity int) (CartResult, error) {
	if quantity <= 0 {
		return CartResult{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	var result CartResult
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.stock.FindByCode(txCtx, productCode)
		if err != nil {
			return err
		}
		cart, _, err := s.callerCart(txCtx, caller, true)
		if err != nil {
			return err
		}

		idx := cart.FindItem(product.Code)
		existing := 0
		if idx >= 0 {
			existing = cart.Items[idx].Quantity
		}
		if product.Stock < existing+quantity {
			return fmt.Errorf("%w: %s has %d, cart would hold %d", ErrOutOfStock, product.Code, product.Stock, existing+quantity)
		}

		now := s.now()
		if idx >= 0 {
			cart.Items[idx].Quantity += quantity
		} else {
			cart.Items = append(cart.Items, CartItem{
				ProductID:   product.ID,
				ProductCode: product.Code,
				ProductName: product.Name,
				Quantity:    quantity,
				UnitPrice:   product.Price,
				AddedAt:     now,
			})
		}
		cart.UpdatedAt = now
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err, nil)
		}
		result = CartResult{Cart: cart}
		return nil
	})
	if err != nil {
		return CartResult{}, err
	}
	return result, nil
}

func (s *cartService) Remove(ctx context.Context, caller Caller, productCode string, quantity int) (CartResult, error) {
	productCode = strings.TrimSpace(productCode)
	var result CartResult
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		cart, ok, err := s.callerCart(txCtx, caller, false)
		if err != nil {
			return err
		}
		idx := -1
		if ok {
			idx = cart.FindItem(productCode)
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrProductNotFoundInCart, productCode)
		}
		line := cart.Items[idx]
		if quantity <= 0 || quantity > line.Quantity {
			return fmt.Errorf("%w: cannot remove %d of %d", ErrInvalidQuantity, quantity, line.Quantity)
		}

		if quantity == line.Quantity {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		} else {
			cart.Items[idx].Quantity -= quantity
		}

		if len(cart.Items) == 0 {
			if err := s.carts.Delete(txCtx, cart.ID); err != nil {
				return mapRepositoryError(err, nil)
			}
			cart.Items = []CartItem{}
			result = CartResult{Cart: cart, Empty: true}
			return nil
		}
		cart.UpdatedAt = s.now()
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err, nil)
		}
		result = CartResult{Cart: cart}
		return nil
	})
	if err != nil {
		return CartResult{}, err
	}
	return result, nil
}

// callerCart resolves the cart for the caller inside an open transaction. Authenticated callers
// always see the merged user cart. When create is false a missing cart yields an unsaved empty cart.
func (s *cartService) callerCart(ctx context.Context, caller Caller, create bool) (Cart, bool, error) {
	if caller.Authenticated() {
		return s.merge(ctx, caller.IP, caller.UserID)
	}

	ip := strings.TrimSpace(caller.IP)
	if ip == "" {
		return Cart{}, false, fmt.Errorf("%w: ip address is required", ErrInvalidInput)
	}
	guest, err := s.guestByIP(ctx, ip, create)
	if err != nil {
		return Cart{}, false, err
	}
	if guest.ID == "" {
		return s.newCart("", ""), false, nil
	}
	cart, ok, err := s.findCart(ctx, "", guest.ID)
	if err != nil || ok {
		return cart, ok, err
	}
	return s.newCart("", guest.ID), false, nil
}

// merge must run inside a transaction. The user cart is only persisted when guest lines move
// into it; stored reports whether the returned cart exists in the repository.
func (s *cartService) merge(ctx context.Context, ip, userID string) (Cart, bool, error) {
	userCart, stored, err := s.findCart(ctx, userID, "")
	if err != nil {
		return Cart{}, false, err
	}
	if !stored {
		userCart = s.newCart(userID, "")
	}
	if ip == "" {
		return userCart, stored, nil
	}

	guest, err := s.guestByIP(ctx, ip, false)
	if err != nil || guest.ID == "" {
		return userCart, stored, err
	}
	guestCart, ok, err := s.findCart(ctx, "", guest.ID)
	if err != nil || !ok {
		return userCart, stored, err
	}

	for _, item := range guestCart.Items {
		if idx := userCart.FindItem(item.ProductCode); idx >= 0 {
			userCart.Items[idx].Quantity += item.Quantity
			continue
		}
		userCart.Items = append(userCart.Items, item)
	}
	userCart.UpdatedAt = s.now()

	if len(userCart.Items) > 0 {
		if err := s.carts.Save(ctx, userCart); err != nil {
			return Cart{}, false, mapRepositoryError(err, nil)
		}
		stored = true
	}
	if err := s.carts.Delete(ctx, guestCart.ID); err != nil {
		return Cart{}, false, mapRepositoryError(err, nil)
	}

	s.logger(ctx, eventCartMerged, map[string]any{"userId": userID, "guestCartId": guestCart.ID, "lines": len(guestCart.Items)})
	return userCart, stored, nil
}

func (s *cartService) findCart(ctx context.Context, userID, anonymousUserID string) (Cart, bool, error) {
	var (
		cart Cart
		err  error
	)
	if userID != "" {
		cart, err = s.carts.FindByUser(ctx, userID)
	} else {
		cart, err = s.carts.FindByAnonymousUser(ctx, anonymousUserID)
	}
	if err != nil {
		if repositories.IsNotFound(err) {
			return Cart{}, false, nil
		}
		return Cart{}, false, mapRepositoryError(err, nil)
	}
	return cart, true, nil
}

// guestByIP returns the guest bound to the IP. When create is false and no guest exists the
// zero value is returned.
func (s *cartService) guestByIP(ctx context.Context, ip string, create bool) (domain.AnonymousUser, error) {
	guest, err := s.anonymous.FindByIP(ctx, ip)
	if err == nil {
		return guest, nil
	}
	if !repositories.IsNotFound(err) {
		return domain.AnonymousUser{}, mapRepositoryError(err, nil)
	}
	if !create {
		return domain.AnonymousUser{}, nil
	}
	guest = domain.AnonymousUser{
		ID:        anonymousUserIDPrefix + s.newID(),
		IPAddress: ip,
		CreatedAt: s.now(),
	}
	if err := s.anonymous.Insert(ctx, guest); err != nil {
		return domain.AnonymousUser{}, mapRepositoryError(err, nil)
	}
	return guest, nil
}

func (s *cartService) newCart(userID, anonymousUserID string) Cart {
	now := s.now()
	return Cart{
		ID:              cartIDPrefix + s.newID(),
		UserID:          userID,
		AnonymousUserID: anonymousUserID,
		Items:           []CartItem{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
