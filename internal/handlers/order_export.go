package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/platform/requestctx"
	"github.com/YunomiXavia/beQuanTri/internal/platform/storage"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportArchiver keeps a copy of a generated export and returns a download link for it.
type ExportArchiver interface {
	Store(ctx context.Context, fileName, contentType string, data []byte) (storage.ArchivedObject, error)
}

// OrderExportHandlers serves the admin spreadsheet download.
type OrderExportHandlers struct {
	authn    *auth.Authenticator
	exporter services.OrderExporter
	archive  ExportArchiver
	clock    func() time.Time
}

// OrderExportOption customises OrderExportHandlers.
type OrderExportOption func(*OrderExportHandlers)

// WithExportArchive enables POST /admin/orders/export:archive.
func WithExportArchive(archive ExportArchiver) OrderExportOption {
	return func(h *OrderExportHandlers) {
		h.archive = archive
	}
}

// NewOrderExportHandlers constructs the export endpoints.
func NewOrderExportHandlers(authn *auth.Authenticator, exporter services.OrderExporter, opts ...OrderExportOption) *OrderExportHandlers {
	h := &OrderExportHandlers{authn: authn, exporter: exporter, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /admin/orders/export and, when an archive is configured,
// /admin/orders/export:archive.
func (h *OrderExportHandlers) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireAuth(h.authn, domain.RoleAdmin))
		r.Get("/orders/export", h.export)
		if h.archive != nil {
			r.Post("/orders/export:archive", h.exportArchive)
		}
	})
}

type archivedExportResponse struct {
	Object    string    `json:"object"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Size      int64     `json:"size"`
	Rows      int       `json:"rows"`
}

// render buffers the workbook so a failure can still produce a JSON error.
func (h *OrderExportHandlers) render(w http.ResponseWriter, r *http.Request) (*bytes.Buffer, int, string, bool) {
	ctx := r.Context()
	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return nil, 0, "", false
	}
	var buf bytes.Buffer
	rows, err := h.exporter.ExportOrders(ctx, callerFromRequest(r), filter, &buf)
	if err != nil {
		writeServiceError(ctx, w, err)
		return nil, 0, "", false
	}
	name := fmt.Sprintf("orders-%s.xlsx", h.clock().UTC().Format("20060102-150405"))
	return &buf, rows, name, true
}

func (h *OrderExportHandlers) exportArchive(w http.ResponseWriter, r *http.Request) {
	buf, rows, name, ok := h.render(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	archived, err := h.archive.Store(ctx, name, xlsxContentType, buf.Bytes())
	if err != nil {
		requestctx.Logger(ctx).Error("export archive failed", zap.String("object", name), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("export_archive_failed", "could not archive the export", http.StatusBadGateway))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusCreated, archivedExportResponse{
		Object:    archived.Object,
		URL:       archived.URL,
		ExpiresAt: archived.ExpiresAt,
		Size:      archived.Size,
		Rows:      rows,
	})
}

func (h *OrderExportHandlers) export(w http.ResponseWriter, r *http.Request) {
	buf, rows, name, ok := h.render(w, r)
	if !ok {
		return
	}
	header := w.Header()
	header.Set("Content-Type", xlsxContentType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	header.Set("Content-Length", strconv.Itoa(buf.Len()))
	header.Set("X-Export-Rows", strconv.Itoa(rows))
	header.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
