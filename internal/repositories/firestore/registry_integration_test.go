//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	pconfig "github.com/YunomiXavia/beQuanTri/internal/platform/config"
	pfirestore "github.com/YunomiXavia/beQuanTri/internal/platform/firestore"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// newEmulatorRegistry needs FIRESTORE_EMULATOR_HOST. Every test gets its own project so runs
// do not see each other's documents.
func newEmulatorRegistry(t *testing.T) *Registry {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	registry, err := NewRegistry(pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "bqt-registry-" + time.Now().UTC().Format("150405.000000"),
		EmulatorHost: host,
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close(context.Background()) })
	return registry
}

func TestRegistryStockAndOrders(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	now := time.Now().UTC().Truncate(time.Second)

	product := domain.Product{ID: "prd_1", Code: "STR-00001", Name: "Streaming", Price: decimal.RequireFromString("100"), Stock: 2, SubscriptionDays: 30, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, registry.Products().Insert(ctx, product))
	assert.True(t, repositories.IsConflict(registry.Products().Insert(ctx, domain.Product{ID: "prd_2", Code: "STR-00001"})), "product codes are unique")

	rollback := errors.New("rollback")
	err := registry.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := registry.Products().AdjustStock(ctx, "prd_1", -1); err != nil {
			return err
		}
		seen, err := registry.Products().FindByCode(ctx, "STR-00001")
		if err != nil {
			return err
		}
		assert.Equal(t, 1, seen.Stock, "the transaction sees its own decrement")
		if err := registry.Orders().Insert(ctx, domain.Order{ID: "ord_1", Status: domain.OrderStatusOpen, OrderDate: now}); err != nil {
			return err
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	stored, err := registry.Products().FindByID(ctx, "prd_1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Stock)
	_, err = registry.Orders().FindByID(ctx, "ord_1")
	assert.True(t, repositories.IsNotFound(err))

	_, err = registry.Products().AdjustStock(ctx, "prd_1", -3)
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorInsufficient, stockErr.Code)
}

func TestRegistryCommissionsAndGuests(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	now := time.Now().UTC().Truncate(time.Second)

	commission := domain.Commission{ID: "com_1", OrderID: "ord_2", CollaboratorID: "col_1", Amount: decimal.RequireFromString("5"), Status: domain.OrderStatusOpen, EarnedAt: now, UpdatedAt: now}
	require.NoError(t, registry.Commissions().Insert(ctx, commission))
	assert.True(t, repositories.IsConflict(registry.Commissions().Insert(ctx, commission)), "one commission per order")

	require.NoError(t, registry.AnonymousUsers().Insert(ctx, domain.AnonymousUser{ID: "anu_1", Email: "Guest@Example.com", PhoneNumber: "0901", CreatedAt: now}))
	matches, err := registry.AnonymousUsers().FindMatchingAny(ctx, "10.0.0.9", "guest@example.com", "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "anu_1", matches[0].ID)

	order := domain.Order{
		ID:              "ord_3",
		AnonymousUserID: "anu_1",
		Status:          domain.OrderStatusOpen,
		OrderDate:       now,
		Items:           []domain.OrderItem{{ID: "itm_1", ProductCode: "STR-00001", Quantity: 1, UnitPrice: decimal.RequireFromString("100"), ExpiryDate: now.Add(48 * time.Hour)}},
	}
	require.NoError(t, registry.Orders().Insert(ctx, order))

	expiring, err := registry.Orders().ListExpiring(ctx, now, now.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "ord_3", expiring[0].ID)

	guestOrders, err := registry.Orders().ListByAnonymousUsers(ctx, []string{"anu_1"})
	require.NoError(t, err)
	assert.Len(t, guestOrders, 1)
}
