package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestProductCode(t *testing.T) {
	at := time.UnixMilli(1741593612345)

	cases := []struct {
		name     string
		category string
		want     string
		wantErr  bool
	}{
		{name: "plain", category: "streaming", want: "STR-12345"},
		{name: "skips non letters", category: " 4k Video", want: "KVI-12345"},
		{name: "short category", category: "tv", want: "TV-12345"},
		{name: "no letters", category: "123", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ProductCode(tc.category, at)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ProductCode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestStockLedgerReserveIsAllOrNothing(t *testing.T) {
	f := newOrderFixture(t)
	f.seedProduct(t, "SUB-A", "10", 5, 30)
	f.seedProduct(t, "SUB-B", "10", 1, 30)
	ctx := context.Background()

	_, err := f.stock.Reserve(ctx, []StockLine{
		{ProductCode: "SUB-A", Quantity: 2},
		{ProductCode: "SUB-B", Quantity: 2},
	})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if f.productStock(t, "SUB-A") != 5 || f.productStock(t, "SUB-B") != 1 {
		t.Fatalf("expected stock untouched after failed reservation")
	}

	// repeated lines for one product are summed before the check
	_, err = f.stock.Reserve(ctx, []StockLine{
		{ProductCode: "SUB-A", Quantity: 3},
		{ProductID: "prd-SUB-A", Quantity: 3},
	})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock for aggregated lines, got %v", err)
	}

	reserved, err := f.stock.Reserve(ctx, []StockLine{
		{ProductCode: "SUB-A", Quantity: 2},
		{ProductCode: "SUB-B", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(reserved) != 2 {
		t.Fatalf("expected two products, got %d", len(reserved))
	}
	if f.productStock(t, "SUB-A") != 3 || f.productStock(t, "SUB-B") != 0 {
		t.Fatalf("unexpected stock after reservation: %d, %d", f.productStock(t, "SUB-A"), f.productStock(t, "SUB-B"))
	}

	if err := f.stock.Release(ctx, []StockLine{{ProductCode: "SUB-B", Quantity: 1}}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if f.productStock(t, "SUB-B") != 1 {
		t.Fatalf("expected released stock to return")
	}

	if _, err := f.stock.Reserve(ctx, []StockLine{{ProductCode: "SUB-A", Quantity: 0}}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := f.stock.Reserve(ctx, []StockLine{{ProductCode: "NOPE", Quantity: 1}}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestStockLedgerAdminOperations(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cmd := CreateProductCommand{
		Name:             "Premium Streaming",
		CategoryName:     "streaming",
		Price:            decimal.RequireFromString("99.999"),
		Stock:            4,
		SubscriptionDays: 30,
	}
	if _, err := f.stock.CreateProduct(ctx, userCaller("user-1"), cmd); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	product, err := f.stock.CreateProduct(ctx, adminCaller(), cmd)
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	want, _ := ProductCode("streaming", fixtureStart)
	if product.Code != want {
		t.Fatalf("expected code %s, got %s", want, product.Code)
	}
	mustDecimal(t, "100", product.Price)

	updated, err := f.stock.AdjustStock(ctx, adminCaller(), product.Code, 6)
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if updated.Stock != 10 {
		t.Fatalf("expected stock 10, got %d", updated.Stock)
	}
	if _, err := f.stock.AdjustStock(ctx, adminCaller(), product.Code, -11); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if f.productStock(t, product.Code) != 10 {
		t.Fatalf("expected stock unchanged after failed adjustment")
	}

	page, err := f.stock.ListProducts(ctx, adminCaller(), Pagination{})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one product, got %d", len(page.Items))
	}
}
