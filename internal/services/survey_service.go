package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/textutil"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

const (
	surveyIDPrefix   = "srv_"
	surveyTextLimit  = 500
	maxSurveyHandles = 50

	eventSurveySubmitted = "survey.submitted"
	eventSurveyHandled   = "survey.handled"
	eventSurveyResponded = "survey.responded"
	eventSurveyCompleted = "survey.completed"
)

// SurveyServiceDeps bundles collaborators required to construct the survey workflow.
type SurveyServiceDeps struct {
	Surveys       repositories.SurveyRepository
	Users         repositories.UserRepository
	Collaborators repositories.CollaboratorRepository
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type surveyService struct {
	surveys       repositories.SurveyRepository
	users         repositories.UserRepository
	collaborators repositories.CollaboratorRepository
	uow           repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

var _ SurveyService = (*surveyService)(nil)

// NewSurveyService wires the survey workflow.
func NewSurveyService(deps SurveyServiceDeps) (SurveyService, error) {
	switch {
	case deps.Surveys == nil:
		return nil, errors.New("survey service: survey repository is required")
	case deps.Users == nil || deps.Collaborators == nil:
		return nil, errors.New("survey service: user and collaborator repositories are required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("survey service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &surveyService{
		surveys:       deps.Surveys,
		users:         deps.Users,
		collaborators: deps.Collaborators,
		uow:           deps.UnitOfWork,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// Submit files a new open survey for a registered customer.
func (s *surveyService) Submit(ctx context.Context, caller Caller, userID, question string) (SurveyView, error) {
	userID = strings.TrimSpace(userID)
	if err := AuthorizeSelf(caller, userID, domain.RoleAdmin); err != nil {
		return SurveyView{}, err
	}
	question, err := surveyText("question", question)
	if err != nil {
		return SurveyView{}, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return SurveyView{}, mapRepositoryError(err, ErrUserNotFound)
	}

	now := s.clock()
	survey := Survey{
		ID:        surveyIDPrefix + s.newID(),
		UserID:    user.ID,
		Status:    domain.OrderStatusOpen,
		Question:  question,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.surveys.Insert(ctx, survey); err != nil {
		return SurveyView{}, mapRepositoryError(err, nil)
	}
	s.logger(ctx, eventSurveySubmitted, map[string]any{"surveyId": survey.ID, "userId": user.ID})
	return ProjectSurvey(survey, SurveyParties{User: &user}, projectionRole(caller)), nil
}

// ListByUser pages one customer's surveys, newest first.
func (s *surveyService) ListByUser(ctx context.Context, caller Caller, userID string, pager Pagination) (domain.CursorPage[SurveyView], error) {
	userID = strings.TrimSpace(userID)
	if err := AuthorizeSelf(caller, userID, domain.RoleAdmin, domain.RoleCollaborator); err != nil {
		return domain.CursorPage[SurveyView]{}, err
	}
	page, err := s.surveys.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[SurveyView]{}, mapRepositoryError(err, nil)
	}
	return s.projectPage(ctx, page, caller), nil
}

// ListAll pages every survey for staff, newest first.
func (s *surveyService) ListAll(ctx context.Context, caller Caller, pager Pagination) (domain.CursorPage[SurveyView], error) {
	if err := Authorize(caller, domain.RoleAdmin, domain.RoleCollaborator); err != nil {
		return domain.CursorPage[SurveyView]{}, err
	}
	page, err := s.surveys.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[SurveyView]{}, mapRepositoryError(err, nil)
	}
	return s.projectPage(ctx, page, caller), nil
}

// Handle assigns every listed survey to the acting collaborator and moves it into progress.
// Either all surveys are assigned or none.
func (s *surveyService) Handle(ctx context.Context, caller Caller, collaboratorID string, surveyIDs []string) ([]SurveyView, error) {
	if err := Authorize(caller, domain.RoleAdmin, domain.RoleCollaborator); err != nil {
		return nil, err
	}
	ids, err := distinctSurveyIDs(surveyIDs)
	if err != nil {
		return nil, err
	}

	var (
		handler Collaborator
		handled []Survey
	)
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		handled = handled[:0]
		var err error
		handler, err = s.actingCollaborator(txCtx, caller, collaboratorID)
		if err != nil {
			return err
		}
		now := s.clock()
		for _, id := range ids {
			survey, err := s.loadSurvey(txCtx, id)
			if err != nil {
				return err
			}
			if survey.Status.Terminal() {
				return fmt.Errorf("%w: survey %s is %s", ErrInvalidStatus, survey.ID, survey.Status)
			}
			if caller.Role == domain.RoleCollaborator && survey.CollaboratorID != "" && survey.CollaboratorID != handler.ID {
				return fmt.Errorf("%w: survey %s is handled by another collaborator", ErrUnauthorized, survey.ID)
			}
			survey.CollaboratorID = handler.ID
			survey.Status = domain.OrderStatusInProgress
			survey.UpdatedAt = now
			if err := s.surveys.Update(txCtx, survey); err != nil {
				return mapRepositoryError(err, ErrSurveyNotFound)
			}
			handled = append(handled, survey)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx, eventSurveyHandled, map[string]any{"collaboratorId": handler.ID, "surveys": len(handled)})
	views := make([]SurveyView, 0, len(handled))
	for _, survey := range handled {
		views = append(views, s.project(ctx, survey, caller))
	}
	return views, nil
}

// Respond records the collaborator's answer. An open survey is taken into progress by the
// responder.
func (s *surveyService) Respond(ctx context.Context, caller Caller, surveyID, collaboratorID, response string) (SurveyView, error) {
	if err := Authorize(caller, domain.RoleAdmin, domain.RoleCollaborator); err != nil {
		return SurveyView{}, err
	}
	response, err := surveyText("response", response)
	if err != nil {
		return SurveyView{}, err
	}

	var survey Survey
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		handler, err := s.actingCollaborator(txCtx, caller, collaboratorID)
		if err != nil {
			return err
		}
		survey, err = s.loadSurvey(txCtx, surveyID)
		if err != nil {
			return err
		}
		if survey.Status.Terminal() {
			return fmt.Errorf("%w: survey %s is %s", ErrInvalidStatus, survey.ID, survey.Status)
		}
		if caller.Role == domain.RoleCollaborator && survey.CollaboratorID != "" && survey.CollaboratorID != handler.ID {
			return fmt.Errorf("%w: survey %s is handled by another collaborator", ErrUnauthorized, survey.ID)
		}
		now := s.clock()
		survey.CollaboratorID = handler.ID
		survey.Status = domain.OrderStatusInProgress
		survey.Response = response
		survey.RespondedAt = &now
		survey.UpdatedAt = now
		return mapRepositoryError(s.surveys.Update(txCtx, survey), ErrSurveyNotFound)
	})
	if err != nil {
		return SurveyView{}, err
	}

	s.logger(ctx, eventSurveyResponded, map[string]any{"surveyId": survey.ID, "collaboratorId": survey.CollaboratorID})
	return s.project(ctx, survey, caller), nil
}

// Complete closes an in-progress survey and credits its collaborator with one handled survey
// in the same transaction.
func (s *surveyService) Complete(ctx context.Context, caller Caller, surveyID string) (SurveyView, error) {
	if err := Authorize(caller, domain.RoleAdmin, domain.RoleCollaborator); err != nil {
		return SurveyView{}, err
	}

	var survey Survey
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		survey, err = s.loadSurvey(txCtx, surveyID)
		if err != nil {
			return err
		}
		if survey.Status != domain.OrderStatusInProgress || survey.CollaboratorID == "" {
			return fmt.Errorf("%w: cannot complete survey in status %s", ErrInvalidStatus, survey.Status)
		}
		if caller.Role == domain.RoleCollaborator {
			self, err := resolveSelfCollaborator(txCtx, s.collaborators, caller)
			if err != nil {
				return err
			}
			if self.ID != survey.CollaboratorID {
				return fmt.Errorf("%w: survey %s is handled by another collaborator", ErrUnauthorized, survey.ID)
			}
		}

		now := s.clock()
		survey.Status = domain.OrderStatusComplete
		survey.UpdatedAt = now
		if err := s.surveys.Update(txCtx, survey); err != nil {
			return mapRepositoryError(err, ErrSurveyNotFound)
		}
		collaborator, err := s.collaborators.FindByID(txCtx, survey.CollaboratorID)
		if err != nil {
			return mapRepositoryError(err, ErrCollaboratorNotFound)
		}
		collaborator.TotalSurveysHandled++
		collaborator.UpdatedAt = now
		return mapRepositoryError(s.collaborators.Update(txCtx, collaborator), ErrCollaboratorNotFound)
	})
	if err != nil {
		return SurveyView{}, err
	}

	s.logger(ctx, eventSurveyCompleted, map[string]any{"surveyId": survey.ID, "collaboratorId": survey.CollaboratorID})
	return s.project(ctx, survey, caller), nil
}

// actingCollaborator resolves who handles a survey. Collaborators always act as themselves;
// admins must name the collaborator.
func (s *surveyService) actingCollaborator(ctx context.Context, caller Caller, collaboratorID string) (Collaborator, error) {
	collaboratorID = strings.TrimSpace(collaboratorID)
	if caller.Role == domain.RoleCollaborator {
		self, err := resolveSelfCollaborator(ctx, s.collaborators, caller)
		if err != nil {
			return Collaborator{}, err
		}
		if collaboratorID != "" && collaboratorID != self.ID {
			return Collaborator{}, fmt.Errorf("%w: collaborators act only on their own behalf", ErrUnauthorized)
		}
		return self, nil
	}
	if collaboratorID == "" {
		return Collaborator{}, fmt.Errorf("%w: collaborator id is required", ErrInvalidInput)
	}
	collaborator, err := s.collaborators.FindByID(ctx, collaboratorID)
	if err != nil {
		return Collaborator{}, mapRepositoryError(err, ErrCollaboratorNotFound)
	}
	return collaborator, nil
}

func (s *surveyService) loadSurvey(ctx context.Context, surveyID string) (Survey, error) {
	surveyID = strings.TrimSpace(surveyID)
	if surveyID == "" {
		return Survey{}, fmt.Errorf("%w: survey id is required", ErrInvalidInput)
	}
	survey, err := s.surveys.FindByID(ctx, surveyID)
	if err != nil {
		return Survey{}, mapRepositoryError(err, ErrSurveyNotFound)
	}
	return survey, nil
}

func (s *surveyService) project(ctx context.Context, survey Survey, caller Caller) SurveyView {
	var parties SurveyParties
	if user, err := s.users.FindByID(ctx, survey.UserID); err == nil {
		parties.User = &user
	} else if !repositories.IsNotFound(err) {
		s.logger(ctx, "survey.parties.user_lookup_failed", map[string]any{"surveyId": survey.ID, "error": err.Error()})
	}
	if survey.CollaboratorID != "" {
		if collaborator, err := s.collaborators.FindByID(ctx, survey.CollaboratorID); err == nil {
			parties.Collaborator = &collaborator
		}
	}
	return ProjectSurvey(survey, parties, projectionRole(caller))
}

func (s *surveyService) projectPage(ctx context.Context, page domain.CursorPage[Survey], caller Caller) domain.CursorPage[SurveyView] {
	out := domain.CursorPage[SurveyView]{
		Items:         make([]SurveyView, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, survey := range page.Items {
		out.Items = append(out.Items, s.project(ctx, survey, caller))
	}
	return out
}

func surveyText(field, value string) (string, error) {
	value = textutil.PlainText(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if utf8.RuneCountInString(value) > surveyTextLimit {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, surveyTextLimit)
	}
	return value, nil
}

func distinctSurveyIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: survey id is required", ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	switch {
	case len(out) == 0:
		return nil, fmt.Errorf("%w: at least one survey id is required", ErrInvalidInput)
	case len(out) > maxSurveyHandles:
		return nil, fmt.Errorf("%w: at most %d surveys per request", ErrInvalidInput, maxSurveyHandles)
	}
	return out, nil
}
