package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

type stubOrderService struct {
	buyNowFn       func(context.Context, services.Caller, services.BuyNowCommand) (services.OrderView, error)
	checkoutFn     func(context.Context, services.Caller, services.CheckoutCommand) (services.OrderView, error)
	processFn      func(context.Context, services.Caller, string, string) (services.OrderView, error)
	completeFn     func(context.Context, services.Caller, string, string) (services.OrderView, error)
	cancelFn       func(context.Context, services.Caller, string) (services.OrderView, error)
	getFn          func(context.Context, services.Caller, string) (services.OrderView, error)
	listByUserFn   func(context.Context, services.Caller, string, services.Pagination) (domain.CursorPage[services.OrderView], error)
	listByCollabFn func(context.Context, services.Caller, string, services.Pagination) (domain.CursorPage[services.OrderView], error)
	listAllFn      func(context.Context, services.Caller, domain.OrderFilter, services.Pagination) (domain.CursorPage[services.OrderView], error)
	historyFn      func(context.Context, string, string) ([]services.OrderView, error)
	datesFn        func(context.Context, services.Caller, string, services.Pagination) (domain.CursorPage[services.ServiceDate], error)
	mapFn          func(context.Context, services.Caller) (int, error)
}

func (s *stubOrderService) BuyNow(ctx context.Context, caller services.Caller, cmd services.BuyNowCommand) (services.OrderView, error) {
	if s.buyNowFn != nil {
		return s.buyNowFn(ctx, caller, cmd)
	}
	return services.OrderView{}, errNotStubbed
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, caller services.Caller, cmd services.CheckoutCommand) (services.OrderView, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, caller, cmd)
	}
	return services.OrderView{}, errNotStubbed
}

func (s *stubOrderService) Process(ctx context.Context, caller services.Caller, orderID, collaboratorID string) (services.OrderView, error) {
	if s.processFn != nil {
		return s.processFn(ctx, caller, orderID, collaboratorID)
	}
	return services.OrderView{}, errNotStubbed
}

func (s *stubOrderService) Complete(ctx context.Context, caller services.Caller, orderID, collaboratorID string) (services.OrderView, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, caller, orderID, collaboratorID)
	}
	return services.OrderView{}, errNotStubbed
}

func (s *stubOrderService) Cancel(ctx context.Context, caller services.Caller, orderID string) (services.OrderView, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, caller, orderID)
	}
	return services.OrderView{}, errNotStubbed
}

func (s *stubOrderService) Get(ctx context.Context, caller services.Caller, orderID string) (services.OrderView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, caller, orderID)
	}
	return services.OrderView{}, errNotStubbed
}

func (s *stubOrderService) ListByUser(ctx context.Context, caller services.Caller, userID string, pager services.Pagination) (domain.CursorPage[services.OrderView], error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, caller, userID, pager)
	}
	return domain.CursorPage[services.OrderView]{}, nil
}

func (s *stubOrderService) ListByCollaborator(ctx context.Context, caller services.Caller, collaboratorID string, pager services.Pagination) (domain.CursorPage[services.OrderView], error) {
	if s.listByCollabFn != nil {
		return s.listByCollabFn(ctx, caller, collaboratorID, pager)
	}
	return domain.CursorPage[services.OrderView]{}, nil
}

func (s *stubOrderService) ListAll(ctx context.Context, caller services.Caller, filter domain.OrderFilter, pager services.Pagination) (domain.CursorPage[services.OrderView], error) {
	if s.listAllFn != nil {
		return s.listAllFn(ctx, caller, filter, pager)
	}
	return domain.CursorPage[services.OrderView]{}, nil
}

func (s *stubOrderService) AnonymousHistory(ctx context.Context, email, phone string) ([]services.OrderView, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, email, phone)
	}
	return nil, nil
}

func (s *stubOrderService) ServiceDates(ctx context.Context, caller services.Caller, userID string, pager services.Pagination) (domain.CursorPage[services.ServiceDate], error) {
	if s.datesFn != nil {
		return s.datesFn(ctx, caller, userID, pager)
	}
	return domain.CursorPage[services.ServiceDate]{}, nil
}

func (s *stubOrderService) MapAnonymousOrders(ctx context.Context, caller services.Caller) (int, error) {
	if s.mapFn != nil {
		return s.mapFn(ctx, caller)
	}
	return 0, nil
}

type stubCartService struct {
	getFn    func(context.Context, services.Caller) (services.CartResult, error)
	addFn    func(context.Context, services.Caller, string, int) (services.CartResult, error)
	removeFn func(context.Context, services.Caller, string, int) (services.CartResult, error)
}

func (s *stubCartService) GetOrCreateAnonymousCart(context.Context, string) (services.Cart, error) {
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) MergeAnonymousIntoUser(context.Context, string, string) (services.Cart, error) {
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) Get(ctx context.Context, caller services.Caller) (services.CartResult, error) {
	if s.getFn != nil {
		return s.getFn(ctx, caller)
	}
	return services.CartResult{Empty: true}, nil
}

func (s *stubCartService) Add(ctx context.Context, caller services.Caller, code string, qty int) (services.CartResult, error) {
	if s.addFn != nil {
		return s.addFn(ctx, caller, code, qty)
	}
	return services.CartResult{}, errNotStubbed
}

func (s *stubCartService) Remove(ctx context.Context, caller services.Caller, code string, qty int) (services.CartResult, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, caller, code, qty)
	}
	return services.CartResult{}, errNotStubbed
}

type stubCollaboratorService struct {
	createFn    func(context.Context, services.Caller, services.CreateCollaboratorCommand) (services.Collaborator, error)
	getFn       func(context.Context, services.Caller, string) (services.Collaborator, error)
	getByUserFn func(context.Context, services.Caller, string) (services.Collaborator, error)
	listFn      func(context.Context, services.Caller, services.Pagination) (domain.CursorPage[services.Collaborator], error)
	rateFn      func(context.Context, services.Caller, string, decimal.Decimal) (services.Collaborator, error)
}

func (s *stubCollaboratorService) FindByReferralCode(context.Context, string) (services.Collaborator, error) {
	return services.Collaborator{}, errNotStubbed
}

func (s *stubCollaboratorService) SelectLeastLoaded(context.Context) (services.Collaborator, error) {
	return services.Collaborator{}, errNotStubbed
}

func (s *stubCollaboratorService) Create(ctx context.Context, caller services.Caller, cmd services.CreateCollaboratorCommand) (services.Collaborator, error) {
	if s.createFn != nil {
		return s.createFn(ctx, caller, cmd)
	}
	return services.Collaborator{}, errNotStubbed
}

func (s *stubCollaboratorService) Get(ctx context.Context, caller services.Caller, id string) (services.Collaborator, error) {
	if s.getFn != nil {
		return s.getFn(ctx, caller, id)
	}
	return services.Collaborator{}, errNotStubbed
}

func (s *stubCollaboratorService) GetByUser(ctx context.Context, caller services.Caller, userID string) (services.Collaborator, error) {
	if s.getByUserFn != nil {
		return s.getByUserFn(ctx, caller, userID)
	}
	return services.Collaborator{}, errNotStubbed
}

func (s *stubCollaboratorService) List(ctx context.Context, caller services.Caller, pager services.Pagination) (domain.CursorPage[services.Collaborator], error) {
	if s.listFn != nil {
		return s.listFn(ctx, caller, pager)
	}
	return domain.CursorPage[services.Collaborator]{}, nil
}

func (s *stubCollaboratorService) UpdateCommissionRate(ctx context.Context, caller services.Caller, id string, rate decimal.Decimal) (services.Collaborator, error) {
	if s.rateFn != nil {
		return s.rateFn(ctx, caller, id, rate)
	}
	return services.Collaborator{}, errNotStubbed
}

type stubCommissionLedger struct {
	listFn func(context.Context, services.Caller, string, services.Pagination) (domain.CursorPage[services.Commission], error)
}

func (s *stubCommissionLedger) Create(context.Context, services.Order, services.Collaborator, decimal.Decimal) (services.Commission, error) {
	return services.Commission{}, errNotStubbed
}

func (s *stubCommissionLedger) SyncStatus(context.Context, string, services.OrderStatus) (services.Commission, error) {
	return services.Commission{}, errNotStubbed
}

func (s *stubCommissionLedger) RecordCompletion(context.Context, string) (services.Commission, error) {
	return services.Commission{}, errNotStubbed
}

func (s *stubCommissionLedger) ListByCollaborator(ctx context.Context, caller services.Caller, id string, pager services.Pagination) (domain.CursorPage[services.Commission], error) {
	if s.listFn != nil {
		return s.listFn(ctx, caller, id, pager)
	}
	return domain.CursorPage[services.Commission]{}, nil
}

type stubStockLedger struct {
	createFn func(context.Context, services.Caller, services.CreateProductCommand) (services.Product, error)
	adjustFn func(context.Context, services.Caller, string, int) (services.Product, error)
	listFn   func(context.Context, services.Caller, services.Pagination) (domain.CursorPage[services.Product], error)
}

func (s *stubStockLedger) FindByCode(context.Context, string) (services.Product, error) {
	return services.Product{}, errNotStubbed
}

func (s *stubStockLedger) FindByID(context.Context, string) (services.Product, error) {
	return services.Product{}, errNotStubbed
}

func (s *stubStockLedger) Reserve(context.Context, []services.StockLine) ([]services.Product, error) {
	return nil, errNotStubbed
}

func (s *stubStockLedger) Release(context.Context, []services.StockLine) error {
	return errNotStubbed
}

func (s *stubStockLedger) CreateProduct(ctx context.Context, caller services.Caller, cmd services.CreateProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, caller, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubStockLedger) AdjustStock(ctx context.Context, caller services.Caller, code string, delta int) (services.Product, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, caller, code, delta)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubStockLedger) ListProducts(ctx context.Context, caller services.Caller, pager services.Pagination) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, caller, pager)
	}
	return domain.CursorPage[services.Product]{}, nil
}

type stubUserService struct {
	ensureFn func(context.Context, services.Caller) (services.User, error)
	getFn    func(context.Context, services.Caller, string) (services.User, error)
}

func (s *stubUserService) EnsureProfile(ctx context.Context, caller services.Caller) (services.User, error) {
	if s.ensureFn != nil {
		return s.ensureFn(ctx, caller)
	}
	return services.User{}, errNotStubbed
}

func (s *stubUserService) GetProfile(ctx context.Context, caller services.Caller, userID string) (services.User, error) {
	if s.getFn != nil {
		return s.getFn(ctx, caller, userID)
	}
	return services.User{}, errNotStubbed
}

type stubExpiryNotifier struct {
	fn func(context.Context, time.Time) (services.ExpirySweepResult, error)
}

func (s *stubExpiryNotifier) Sweep(ctx context.Context, now time.Time) (services.ExpirySweepResult, error) {
	if s.fn != nil {
		return s.fn(ctx, now)
	}
	return services.ExpirySweepResult{}, nil
}

type stubOrderExporter struct {
	fn func(context.Context, services.Caller, domain.OrderFilter, io.Writer) (int, error)
}

func (s *stubOrderExporter) ExportOrders(ctx context.Context, caller services.Caller, filter domain.OrderFilter, w io.Writer) (int, error) {
	if s.fn != nil {
		return s.fn(ctx, caller, filter, w)
	}
	return 0, errNotStubbed
}

func withIdentity(req *http.Request, uid string, roles ...domain.Role) *http.Request {
	identity := &auth.Identity{UID: uid, Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["code"] != code {
		t.Fatalf("expected code %q, got %v", code, body["code"])
	}
}
