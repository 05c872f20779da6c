package jobs

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YunomiXavia/beQuanTri/internal/services"
)

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	notifier := NewLogNotifier(zap.New(core))

	if err := notifier.Notify(context.Background(), " ", "subject", "body"); err == nil {
		t.Fatal("expected empty address to be rejected")
	}
	if err := notifier.Notify(context.Background(), "buyer@example.com", "Dịch vụ sắp hết hạn", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	entries := logs.FilterMessage("notification queued").AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].LoggerName != "notifier" || entries[0].ContextMap()["address"] != "b****@example.com" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestLogOrderEventPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	publisher := NewLogOrderEventPublisher(zap.New(core))

	err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:    "order.cancelled",
		OrderID: "ord_1",
		Status:  "cancelled",
	})
	if err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	fields := logs.All()[0].ContextMap()
	if fields["type"] != "order.cancelled" || fields["orderId"] != "ord_1" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
