package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const (
	eventStockReserve = "stock.reserve"
	eventStockRelease = "stock.release"
	eventStockAdjust  = "stock.adjust"

	productCodePrefixLen = 3
	productCodeSuffixLen = 5
)

// StockLedgerDeps bundles the collaborators required to construct a stock ledger.
type StockLedgerDeps struct {
	Products    repositories.ProductRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type stockLedger struct {
	products repositories.ProductRepository
	uow      repositories.UnitOfWork
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewStockLedger wires dependencies into a concrete StockLedger implementation.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("stock ledger: product repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("stock ledger: unit of work is required")
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
	return &stockLedger{
		products: deps.Products,
		uow:      deps.UnitOfWork,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (l *stockLedger) FindByCode(ctx context.Context, code string) (Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Product{}, fmt.Errorf("%w: product code is required", ErrInvalidInput)
	}
	product, err := l.products.FindByCode(ctx, code)
	if err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound)
	}
	return product, nil
}

func (l *stockLedger) FindByID(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	product, err := l.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound)
	}
	return product, nil
}

func (l *stockLedger) Reserve(ctx context.Context, lines []StockLine) ([]Product, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidQuantity)
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for %s", ErrInvalidQuantity, line.label())
		}
	}

	var reserved []Product
	err := l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		products, totals, err := l.resolveLines(txCtx, lines)
		if err != nil {
			return err
		}
		// every counter is checked before the first write
		for _, product := range products {
			if product.Stock < totals[product.ID] {
				return fmt.Errorf("%w: %s has %d, requested %d", ErrOutOfStock, product.Code, product.Stock, totals[product.ID])
			}
		}
		reserved = make([]Product, 0, len(products))
		for _, product := range products {
			updated, err := l.products.AdjustStock(txCtx, product.ID, -totals[product.ID])
			if err != nil {
				return mapRepositoryError(err, ErrProductNotFound)
			}
			reserved = append(reserved, updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger(ctx, eventStockReserve, map[string]any{"lines": len(lines), "products": len(reserved)})
	return reserved, nil
}

func (l *stockLedger) Release(ctx context.Context, lines []StockLine) error {
	if len(lines) == 0 {
		return nil
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for %s", ErrInvalidQuantity, line.label())
		}
	}

	err := l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		products, totals, err := l.resolveLines(txCtx, lines)
		if err != nil {
			return err
		}
		for _, product := range products {
			if _, err := l.products.AdjustStock(txCtx, product.ID, totals[product.ID]); err != nil {
				return mapRepositoryError(err, ErrProductNotFound)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger(ctx, eventStockRelease, map[string]any{"lines": len(lines)})
	return nil
}

func (l *stockLedger) CreateProduct(ctx context.Context, caller Caller, cmd CreateProductCommand) (Product, error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return Product{}, err
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if cmd.Price.IsNegative() {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if cmd.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrInvalidQuantity)
	}
	if cmd.SubscriptionDays < 0 {
		return Product{}, fmt.Errorf("%w: subscription days must not be negative", ErrInvalidInput)
	}

	now := l.clock()
	code, err := ProductCode(cmd.CategoryName, now)
	if err != nil {
		return Product{}, err
	}
	product := Product{
		ID:               l.newID(),
		Code:             code,
		Name:             name,
		Price:            domain.RoundMoney(cmd.Price),
		Stock:            cmd.Stock,
		SubscriptionDays: cmd.SubscriptionDays,
		CategoryID:       strings.TrimSpace(cmd.CategoryID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.products.Insert(ctx, product); err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound)
	}
	return product, nil
}

func (l *stockLedger) AdjustStock(ctx context.Context, caller Caller, code string, delta int) (Product, error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return Product{}, err
	}
	if delta == 0 {
		return Product{}, fmt.Errorf("%w: delta must not be zero", ErrInvalidQuantity)
	}

	var updated Product
	err := l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := l.FindByCode(txCtx, code)
		if err != nil {
			return err
		}
		updated, err = l.products.AdjustStock(txCtx, product.ID, delta)
		if err != nil {
			return mapRepositoryError(err, ErrProductNotFound)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}

	l.logger(ctx, eventStockAdjust, map[string]any{"productCode": updated.Code, "delta": delta, "stock": updated.Stock, "actorId": caller.UserID})
	return updated, nil
}

func (l *stockLedger) ListProducts(ctx context.Context, caller Caller, pager Pagination) (domain.CursorPage[Product], error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return domain.CursorPage[Product]{}, err
	}
	page, err := l.products.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Product]{}, mapRepositoryError(err, nil)
	}
	return page, nil
}

// resolveLines loads each distinct product once and sums the requested quantity per product.
func (l *stockLedger) resolveLines(ctx context.Context, lines []StockLine) ([]Product, map[string]int, error) {
	products := make([]Product, 0, len(lines))
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		var (
			product Product
			err     error
		)
		if id := strings.TrimSpace(line.ProductID); id != "" {
			product, err = l.FindByID(ctx, id)
		} else {
			product, err = l.FindByCode(ctx, line.ProductCode)
		}
		if err != nil {
			return nil, nil, err
		}
		if _, seen := totals[product.ID]; !seen {
			products = append(products, product)
		}
		totals[product.ID] += line.Quantity
	}
	return products, totals, nil
}

func (line StockLine) label() string {
	if line.ProductCode != "" {
		return line.ProductCode
	}
	return line.ProductID
}

// ProductCode derives a product code from the category name and the creation instant:
// the first three letters of the category, uppercased, a dash, and the last five digits
// of the Unix millisecond clock.
func ProductCode(categoryName string, at time.Time) (string, error) {
	var prefix []rune
	for _, r := range strings.TrimSpace(categoryName) {
		if !unicode.IsLetter(r) {
			continue
		}
		prefix = append(prefix, unicode.ToUpper(r))
		if len(prefix) == productCodePrefixLen {
			break
		}
	}
	if len(prefix) == 0 {
		return "", fmt.Errorf("%w: category name must contain letters", ErrInvalidInput)
	}
	millis := strconv.FormatInt(at.UnixMilli(), 10)
	if len(millis) > productCodeSuffixLen {
		millis = millis[len(millis)-productCodeSuffixLen:]
	}
	return string(prefix) + "-" + millis, nil
}
