package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

type stubSurveyService struct {
	submitFn     func(context.Context, services.Caller, string, string) (services.SurveyView, error)
	listByUserFn func(context.Context, services.Caller, string, services.Pagination) (domain.CursorPage[services.SurveyView], error)
	listAllFn    func(context.Context, services.Caller, services.Pagination) (domain.CursorPage[services.SurveyView], error)
	handleFn     func(context.Context, services.Caller, string, []string) ([]services.SurveyView, error)
	respondFn    func(context.Context, services.Caller, string, string, string) (services.SurveyView, error)
	completeFn   func(context.Context, services.Caller, string) (services.SurveyView, error)
}

func (s *stubSurveyService) Submit(ctx context.Context, caller services.Caller, userID, question string) (services.SurveyView, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, caller, userID, question)
	}
	return services.SurveyView{}, errNotStubbed
}

func (s *stubSurveyService) ListByUser(ctx context.Context, caller services.Caller, userID string, pager services.Pagination) (domain.CursorPage[services.SurveyView], error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, caller, userID, pager)
	}
	return domain.CursorPage[services.SurveyView]{}, errNotStubbed
}

func (s *stubSurveyService) ListAll(ctx context.Context, caller services.Caller, pager services.Pagination) (domain.CursorPage[services.SurveyView], error) {
	if s.listAllFn != nil {
		return s.listAllFn(ctx, caller, pager)
	}
	return domain.CursorPage[services.SurveyView]{}, errNotStubbed
}

func (s *stubSurveyService) Handle(ctx context.Context, caller services.Caller, collaboratorID string, surveyIDs []string) ([]services.SurveyView, error) {
	if s.handleFn != nil {
		return s.handleFn(ctx, caller, collaboratorID, surveyIDs)
	}
	return nil, errNotStubbed
}

func (s *stubSurveyService) Respond(ctx context.Context, caller services.Caller, surveyID, collaboratorID, response string) (services.SurveyView, error) {
	if s.respondFn != nil {
		return s.respondFn(ctx, caller, surveyID, collaboratorID, response)
	}
	return services.SurveyView{}, errNotStubbed
}

func (s *stubSurveyService) Complete(ctx context.Context, caller services.Caller, surveyID string) (services.SurveyView, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, caller, surveyID)
	}
	return services.SurveyView{}, errNotStubbed
}

func newSurveyRouter(h *SurveyHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/users", h.UserRoutes)
	router.Route("/surveys", h.Routes)
	return router
}

func sampleSurveyView(id string, status domain.OrderStatus) services.SurveyView {
	return services.SurveyView{
		ID:        id,
		Status:    status,
		Question:  "Can I renew early?",
		CreatedAt: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestSurveyHandlersSubmit(t *testing.T) {
	var gotUser, gotQuestion string
	svc := &stubSurveyService{
		submitFn: func(_ context.Context, caller services.Caller, userID, question string) (services.SurveyView, error) {
			if caller.UserID != "user-7" {
				return services.SurveyView{}, services.ErrUnauthorized
			}
			gotUser, gotQuestion = userID, question
			return sampleSurveyView("srv_1", domain.OrderStatusOpen), nil
		},
	}
	router := newSurveyRouter(NewSurveyHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodPost, "/users/user-7/surveys", strings.NewReader(`{"question":"Can I renew early?"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "user-7", "user"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotUser != "user-7" || gotQuestion != "Can I renew early?" {
		t.Fatalf("unexpected arguments %q %q", gotUser, gotQuestion)
	}
	body := decodeBody(t, rr)
	if body["id"] != "srv_1" || body["status"] != string(domain.OrderStatusOpen) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSurveyHandlersSubmitRejectsMalformedBody(t *testing.T) {
	router := newSurveyRouter(NewSurveyHandlers(nil, &stubSurveyService{}))

	req := httptest.NewRequest(http.MethodPost, "/users/user-7/surveys", strings.NewReader(`{"question":`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "user-7", "user"))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestSurveyHandlersHandle(t *testing.T) {
	var gotCollaborator string
	var gotIDs []string
	svc := &stubSurveyService{
		handleFn: func(_ context.Context, _ services.Caller, collaboratorID string, ids []string) ([]services.SurveyView, error) {
			gotCollaborator, gotIDs = collaboratorID, ids
			views := make([]services.SurveyView, 0, len(ids))
			for _, id := range ids {
				views = append(views, sampleSurveyView(id, domain.OrderStatusInProgress))
			}
			return views, nil
		},
	}
	router := newSurveyRouter(NewSurveyHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodPut, "/surveys/handle", strings.NewReader(`{"collaboratorId":"col-1","surveyIds":["srv_1","srv_2"]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "admin-1", "admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCollaborator != "col-1" || len(gotIDs) != 2 || gotIDs[1] != "srv_2" {
		t.Fatalf("unexpected arguments %q %v", gotCollaborator, gotIDs)
	}
	items, ok := decodeBody(t, rr)["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected two items, got %s", rr.Body.String())
	}
}

func TestSurveyHandlersRespondAndComplete(t *testing.T) {
	var gotResponse string
	svc := &stubSurveyService{
		respondFn: func(_ context.Context, _ services.Caller, surveyID, _ string, response string) (services.SurveyView, error) {
			gotResponse = response
			view := sampleSurveyView(surveyID, domain.OrderStatusInProgress)
			view.Response = response
			return view, nil
		},
		completeFn: func(_ context.Context, _ services.Caller, surveyID string) (services.SurveyView, error) {
			if surveyID == "srv_open" {
				return services.SurveyView{}, services.ErrInvalidStatus
			}
			return sampleSurveyView(surveyID, domain.OrderStatusComplete), nil
		},
	}
	router := newSurveyRouter(NewSurveyHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodPost, "/surveys/srv_1/response", strings.NewReader(`{"response":"Yes."}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "col-user", "collaborator"))
	if rr.Code != http.StatusOK || gotResponse != "Yes." {
		t.Fatalf("expected 200 with the response forwarded, got %d %q", rr.Code, gotResponse)
	}

	req = httptest.NewRequest(http.MethodPut, "/surveys/srv_1/complete", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "col-user", "collaborator"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["status"] != string(domain.OrderStatusComplete) {
		t.Fatalf("unexpected body %v", body)
	}

	req = httptest.NewRequest(http.MethodPut, "/surveys/srv_open/complete", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "col-user", "collaborator"))
	assertErrorCode(t, rr, http.StatusConflict, "invalid_status")
}

func TestSurveyHandlersListAllAndMissingSurvey(t *testing.T) {
	svc := &stubSurveyService{
		handleFn: func(context.Context, services.Caller, string, []string) ([]services.SurveyView, error) {
			return nil, services.ErrSurveyNotFound
		},
		listAllFn: func(context.Context, services.Caller, services.Pagination) (domain.CursorPage[services.SurveyView], error) {
			return domain.CursorPage[services.SurveyView]{
				Items:         []services.SurveyView{sampleSurveyView("srv_1", domain.OrderStatusOpen)},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newSurveyRouter(NewSurveyHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodGet, "/surveys/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "admin-1", "admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["nextPageToken"] != "next" {
		t.Fatalf("unexpected body %v", body)
	}

	req = httptest.NewRequest(http.MethodPut, "/surveys/handle", strings.NewReader(`{"collaboratorId":"col-1","surveyIds":["srv_missing"]}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "admin-1", "admin"))
	assertErrorCode(t, rr, http.StatusNotFound, "survey_not_found")
}
