package di

import (
	"context"
	"testing"
	"time"

	"github.com/YunomiXavia/beQuanTri/internal/platform/config"
	"github.com/YunomiXavia/beQuanTri/internal/repositories/memory"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

type recordingNotifier struct{ sent int }

func (n *recordingNotifier) Notify(context.Context, string, string, string) error {
	n.sent++
	return nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, Externals{}); err == nil {
		t.Fatal("expected error without a registry")
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	cfg := config.Config{Orders: config.OrdersConfig{
		CancelWindow:    time.Hour,
		ExpiryLookahead: 72 * time.Hour,
		Locale:          "vi",
	}}
	store := memory.NewStore()

	container, err := NewContainer(context.Background(), cfg, store, Externals{
		Notifier: &recordingNotifier{},
		Build:    services.BuildInfo{Version: "test"},
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	svc := container.Services
	if svc.Stock == nil || svc.Carts == nil || svc.Collaborators == nil || svc.Commissions == nil {
		t.Fatalf("ledger services missing: %+v", svc)
	}
	if svc.Orders == nil || svc.Users == nil || svc.Surveys == nil || svc.Exporter == nil || svc.System == nil {
		t.Fatalf("order services missing: %+v", svc)
	}
	if svc.Expiry == nil {
		t.Fatal("expected expiry notifier when a notifier is supplied")
	}

	report, err := svc.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if _, ok := report.Checks["repositories"]; !ok {
		t.Fatalf("expected default repositories check, got %+v", report.Checks)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewContainerWithoutNotifierSkipsExpiry(t *testing.T) {
	container, err := NewContainer(context.Background(), config.Config{}, memory.NewStore(), Externals{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.Expiry != nil {
		t.Fatal("expiry notifier should be disabled without a notifier")
	}
}
