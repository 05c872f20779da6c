package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tealeg/xlsx"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

func TestOrderExporterWritesWorkbook(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	seedExpiringOrder(t, f, "ord-a", domain.OrderStatusOpen, fixtureStart.Add(time.Hour))
	seedExpiringOrder(t, f, "ord-b", domain.OrderStatusComplete, fixtureStart.Add(time.Hour))
	seedExpiringOrder(t, f, "ord-c", domain.OrderStatusComplete, fixtureStart.Add(time.Hour))

	exporter, err := NewOrderExporter(OrderExporterDeps{Orders: f.store.Orders()})
	if err != nil {
		t.Fatalf("NewOrderExporter: %v", err)
	}

	var buf bytes.Buffer
	if _, err := exporter.ExportOrders(ctx, userCaller("user-1"), domain.OrderFilter{}, &buf); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	rows, err := exporter.ExportOrders(ctx, adminCaller(), domain.OrderFilter{}, &buf)
	if err != nil {
		t.Fatalf("ExportOrders: %v", err)
	}
	if rows != 3 {
		t.Fatalf("expected 3 rows, got %d", rows)
	}

	book, err := xlsx.OpenBinary(buf.Bytes())
	if err != nil {
		t.Fatalf("OpenBinary: %v", err)
	}
	if len(book.Sheets) != 1 || book.Sheets[0].Name != "Orders" {
		t.Fatalf("expected a single Orders sheet")
	}
	sheet := book.Sheets[0]
	if len(sheet.Rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(sheet.Rows))
	}
	if got := sheet.Rows[0].Cells[0].String(); got != "Order ID" {
		t.Fatalf("unexpected header %q", got)
	}
	if got := sheet.Rows[1].Cells[3].String(); got != "user:user-1" {
		t.Fatalf("unexpected owner cell %q", got)
	}

	complete := domain.OrderStatusComplete
	buf.Reset()
	rows, err = exporter.ExportOrders(ctx, adminCaller(), domain.OrderFilter{Status: &complete}, &buf)
	if err != nil {
		t.Fatalf("ExportOrders filtered: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 complete rows, got %d", rows)
	}
}
