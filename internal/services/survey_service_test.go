package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

func newSurveyService(t *testing.T, f *orderFixture) SurveyService {
	t.Helper()
	ids := &sequenceIDs{}
	svc, err := NewSurveyService(SurveyServiceDeps{
		Surveys:       f.store.Surveys(),
		Users:         f.store.Users(),
		Collaborators: f.store.Collaborators(),
		UnitOfWork:    f.store,
		Clock:         f.clock.Now,
		IDGenerator:   ids.Next,
	})
	if err != nil {
		t.Fatalf("NewSurveyService: %v", err)
	}
	return svc
}

func seedUser(t *testing.T, f *orderFixture, id string) {
	t.Helper()
	if err := f.store.Users().Save(context.Background(), User{ID: id, Email: id + "@example.com", DisplayName: "Customer " + id, CreatedAt: fixtureStart}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestSurveyServiceRequiresRepositories(t *testing.T) {
	if _, err := NewSurveyService(SurveyServiceDeps{}); err == nil {
		t.Fatal("expected an error without repositories")
	}
}

func TestSurveyWorkflowCreditsCollaborator(t *testing.T) {
	f := newOrderFixture(t)
	svc := newSurveyService(t, f)
	ctx := context.Background()
	seedUser(t, f, "u-1")
	f.seedCollaborator(t, "col-1", "c-user", "AAAA0001", "0.1", 0, fixtureStart)

	submitted, err := svc.Submit(ctx, userCaller("u-1"), "u-1", "  Can I <b>renew</b> early? ")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if submitted.Status != domain.OrderStatusOpen || submitted.Question != "Can I renew early?" || submitted.Collaborator != nil {
		t.Fatalf("unexpected submitted survey %+v", submitted)
	}
	if submitted.User == nil || submitted.User.ID != "" || submitted.User.Email != "u-1@example.com" {
		t.Fatalf("customers see their contact section without identifiers: %+v", submitted.User)
	}

	handled, err := svc.Handle(ctx, collaboratorCaller("c-user"), "", []string{submitted.ID, submitted.ID})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(handled) != 1 || handled[0].Status != domain.OrderStatusInProgress {
		t.Fatalf("expected one survey in progress, got %+v", handled)
	}

	f.clock.Advance(time.Hour)
	answered, err := svc.Respond(ctx, collaboratorCaller("c-user"), submitted.ID, "", "Yes, from the renewal page.")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if answered.Response != "Yes, from the renewal page." || answered.RespondedAt == nil || !answered.RespondedAt.Equal(fixtureStart.Add(time.Hour)) {
		t.Fatalf("unexpected answered survey %+v", answered)
	}

	completed, err := svc.Complete(ctx, collaboratorCaller("c-user"), submitted.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != domain.OrderStatusComplete {
		t.Fatalf("expected complete, got %s", completed.Status)
	}
	if got := f.collaborator(t, "col-1"); got.TotalSurveysHandled != 1 || got.TotalOrdersHandled != 0 {
		t.Fatalf("expected one handled survey and no handled orders, got %+v", got)
	}

	if _, err := svc.Complete(ctx, adminCaller(), submitted.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on a second completion, got %v", err)
	}
	if _, err := svc.Respond(ctx, adminCaller(), submitted.ID, "col-1", "late"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus responding to a complete survey, got %v", err)
	}
	if got := f.collaborator(t, "col-1"); got.TotalSurveysHandled != 1 {
		t.Fatalf("counter moved on a rejected completion: %d", got.TotalSurveysHandled)
	}

	admin, err := svc.ListAll(ctx, adminCaller(), Pagination{})
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(admin.Items) != 1 || admin.Items[0].Collaborator == nil || admin.Items[0].Collaborator.ID != "col-1" || admin.Items[0].Collaborator.TotalSurveysHandled != 1 {
		t.Fatalf("admins see the handling collaborator: %+v", admin.Items)
	}
}

func TestSurveyHandleIsAllOrNothing(t *testing.T) {
	f := newOrderFixture(t)
	svc := newSurveyService(t, f)
	ctx := context.Background()
	seedUser(t, f, "u-1")
	f.seedCollaborator(t, "col-1", "c-user", "AAAA0001", "0.1", 0, fixtureStart)

	first, err := svc.Submit(ctx, userCaller("u-1"), "u-1", "First question")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := svc.Handle(ctx, adminCaller(), "col-1", []string{first.ID, "srv_missing"}); !errors.Is(err, ErrSurveyNotFound) {
		t.Fatalf("expected ErrSurveyNotFound, got %v", err)
	}
	stored, err := f.store.Surveys().FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusOpen || stored.CollaboratorID != "" {
		t.Fatalf("failed batch must not assign any survey: %+v", stored)
	}
}

func TestSurveyAccess(t *testing.T) {
	f := newOrderFixture(t)
	svc := newSurveyService(t, f)
	ctx := context.Background()
	seedUser(t, f, "u-1")
	f.seedCollaborator(t, "col-1", "c-user", "AAAA0001", "0.1", 0, fixtureStart)
	f.seedCollaborator(t, "col-2", "d-user", "BBBB0001", "0.1", 0, fixtureStart.Add(time.Minute))

	survey, err := svc.Submit(ctx, userCaller("u-1"), "u-1", "Question")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Handle(ctx, collaboratorCaller("c-user"), "", []string{survey.ID}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"submit for another user", func() error {
			_, err := svc.Submit(ctx, userCaller("u-2"), "u-1", "Question")
			return err
		}, ErrUnauthorized},
		{"anonymous submit", func() error {
			_, err := svc.Submit(ctx, AnonymousCaller("10.0.0.1"), "u-1", "Question")
			return err
		}, ErrUnauthorized},
		{"blank question", func() error {
			_, err := svc.Submit(ctx, userCaller("u-1"), "u-1", "<p> </p>")
			return err
		}, ErrInvalidInput},
		{"oversized question", func() error {
			_, err := svc.Submit(ctx, userCaller("u-1"), "u-1", strings.Repeat("a", 501))
			return err
		}, ErrInvalidInput},
		{"admin submits for missing profile", func() error {
			_, err := svc.Submit(ctx, adminCaller(), "ghost", "Question")
			return err
		}, ErrUserNotFound},
		{"customer lists the queue", func() error {
			_, err := svc.ListAll(ctx, userCaller("u-1"), Pagination{})
			return err
		}, ErrUnauthorized},
		{"customer reads another history", func() error {
			_, err := svc.ListByUser(ctx, userCaller("u-2"), "u-1", Pagination{})
			return err
		}, ErrUnauthorized},
		{"admin handles without collaborator", func() error {
			_, err := svc.Handle(ctx, adminCaller(), "", []string{survey.ID})
			return err
		}, ErrInvalidInput},
		{"collaborator acts for another", func() error {
			_, err := svc.Handle(ctx, collaboratorCaller("c-user"), "col-2", []string{survey.ID})
			return err
		}, ErrUnauthorized},
		{"collaborator takes a survey already handled", func() error {
			_, err := svc.Respond(ctx, collaboratorCaller("d-user"), survey.ID, "", "Mine now")
			return err
		}, ErrUnauthorized},
		{"collaborator completes a survey handled by another", func() error {
			_, err := svc.Complete(ctx, collaboratorCaller("d-user"), survey.ID)
			return err
		}, ErrUnauthorized},
		{"empty batch", func() error {
			_, err := svc.Handle(ctx, adminCaller(), "col-1", nil)
			return err
		}, ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	own, err := svc.ListByUser(ctx, userCaller("u-1"), "u-1", Pagination{})
	if err != nil || len(own.Items) != 1 {
		t.Fatalf("customers list their own surveys: %+v %v", own, err)
	}
	if own.Items[0].Collaborator == nil || own.Items[0].Collaborator.ID != "" {
		t.Fatalf("customers see the collaborator section without its id: %+v", own.Items[0].Collaborator)
	}
}
