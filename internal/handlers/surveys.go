package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const maxSurveyBodySize = 8 * 1024

// SurveyHandlers exposes customer survey submission and the staff survey queue.
type SurveyHandlers struct {
	authn   *auth.Authenticator
	surveys services.SurveyService
}

func NewSurveyHandlers(authn *auth.Authenticator, surveys services.SurveyService) *SurveyHandlers {
	return &SurveyHandlers{authn: authn, surveys: surveys}
}

// UserRoutes registers /users/{userId}/surveys.
func (h *SurveyHandlers) UserRoutes(r chi.Router) {
	r.Use(requireAuth(h.authn))
	r.Post("/{userId}/surveys", h.submit)
	r.Get("/{userId}/surveys", h.listByUser)
}

// Routes registers the /surveys queue for collaborators and admins.
func (h *SurveyHandlers) Routes(r chi.Router) {
	r.Use(requireAuth(h.authn, domain.RoleCollaborator, domain.RoleAdmin))
	r.Get("/", h.listAll)
	r.Put("/handle", h.handle)
	r.Post("/{surveyId}/response", h.respond)
	r.Put("/{surveyId}/complete", h.complete)
}

type submitSurveyRequest struct {
	Question string `json:"question"`
}

type handleSurveysRequest struct {
	CollaboratorID string   `json:"collaboratorId"`
	SurveyIDs      []string `json:"surveyIds"`
}

type respondSurveyRequest struct {
	CollaboratorID string `json:"collaboratorId"`
	Response       string `json:"response"`
}

func (h *SurveyHandlers) submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireParam(w, r, "userId")
	if !ok {
		return
	}
	var req submitSurveyRequest
	if !decodeJSONBody(w, r, maxSurveyBodySize, false, &req) {
		return
	}
	view, err := h.surveys.Submit(r.Context(), callerFromRequest(r), userID, req.Question)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

func (h *SurveyHandlers) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireParam(w, r, "userId")
	if !ok {
		return
	}
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.surveys.ListByUser(r.Context(), callerFromRequest(r), userID, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page))
}

func (h *SurveyHandlers) listAll(w http.ResponseWriter, r *http.Request) {
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.surveys.ListAll(r.Context(), callerFromRequest(r), pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page))
}

func (h *SurveyHandlers) handle(w http.ResponseWriter, r *http.Request) {
	var req handleSurveysRequest
	if !decodeJSONBody(w, r, maxSurveyBodySize, false, &req) {
		return
	}
	views, err := h.surveys.Handle(r.Context(), callerFromRequest(r), req.CollaboratorID, req.SurveyIDs)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(domain.CursorPage[services.SurveyView]{Items: views}))
}

func (h *SurveyHandlers) respond(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := requireParam(w, r, "surveyId")
	if !ok {
		return
	}
	var req respondSurveyRequest
	if !decodeJSONBody(w, r, maxSurveyBodySize, false, &req) {
		return
	}
	view, err := h.surveys.Respond(r.Context(), callerFromRequest(r), surveyID, req.CollaboratorID, req.Response)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

func (h *SurveyHandlers) complete(w http.ResponseWriter, r *http.Request) {
	surveyID, ok := requireParam(w, r, "surveyId")
	if !ok {
		return
	}
	view, err := h.surveys.Complete(r.Context(), callerFromRequest(r), surveyID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}
