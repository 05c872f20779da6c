package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tealeg/xlsx"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const (
	exportSheetName  = "Orders"
	exportPageSize   = 100
	exportTimeLayout = "2006-01-02 15:04:05"
)

var exportHeaders = []string{"Order ID", "Order Date", "Status", "Owner", "Collaborator", "Referral Code", "Total", "Items"}

// OrderExporterDeps bundles collaborators required by the spreadsheet export.
type OrderExporterDeps struct {
	Orders repositories.OrderRepository
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderExporter struct {
	orders repositories.OrderRepository
	logger func(context.Context, string, map[string]any)
}

// NewOrderExporter wires the admin spreadsheet export.
func NewOrderExporter(deps OrderExporterDeps) (OrderExporter, error) {
	if deps.Orders == nil {
		return nil, errors.New("order exporter: order repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderExporter{orders: deps.Orders, logger: logger}, nil
}

// ExportOrders writes every order matching the filter as an xlsx workbook and returns the row count.
func (e *orderExporter) ExportOrders(ctx context.Context, caller Caller, filter domain.OrderFilter, w io.Writer) (int, error) {
	if err := Authorize(caller, domain.RoleAdmin); err != nil {
		return 0, err
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(exportSheetName)
	if err != nil {
		return 0, fmt.Errorf("order exporter: add sheet: %w", err)
	}
	header := sheet.AddRow()
	for _, h := range exportHeaders {
		header.AddCell().SetValue(h)
	}

	rows := 0
	pager := domain.Pagination{PageSize: exportPageSize}
	for {
		page, err := e.orders.List(ctx, filter, pager)
		if err != nil {
			return 0, mapRepositoryError(err, nil)
		}
		for _, order := range page.Items {
			row := sheet.AddRow()
			row.AddCell().SetValue(order.ID)
			row.AddCell().SetValue(order.OrderDate.Format(exportTimeLayout))
			row.AddCell().SetValue(string(order.Status))
			row.AddCell().SetValue(orderOwner(order))
			row.AddCell().SetValue(order.CollaboratorID)
			row.AddCell().SetValue(order.ReferralCodeUsed)
			total, _ := order.Total.Float64()
			row.AddCell().SetFloat(total)
			row.AddCell().SetInt(len(order.Items))
			rows++
		}
		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}

	if err := file.Write(w); err != nil {
		return 0, fmt.Errorf("order exporter: write workbook: %w", err)
	}
	e.logger(ctx, "orders.exported", map[string]any{"rows": rows, "actorId": caller.UserID})
	return rows, nil
}

func orderOwner(order Order) string {
	if order.UserID != "" {
		return "user:" + order.UserID
	}
	if order.AnonymousUserID != "" {
		return "anonymous:" + order.AnonymousUserID
	}
	return ""
}
