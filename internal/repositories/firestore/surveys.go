package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	pfirestore "github.com/YunomiXavia/beQuanTri/internal/platform/firestore"
)

// SurveyRepository stores one document per survey.
type SurveyRepository struct {
	base *pfirestore.Collection[surveyDocument]
}

func surveyFromDoc(id string, d surveyDocument) domain.Survey { return d.toDomain(id) }

func (r *SurveyRepository) Insert(ctx context.Context, survey domain.Survey) error {
	return r.base.Create(ctx, survey.ID, newSurveyDocument(survey))
}

func (r *SurveyRepository) Update(ctx context.Context, survey domain.Survey) error {
	if _, err := r.base.Get(ctx, survey.ID); err != nil {
		return err
	}
	return r.base.Set(ctx, survey.ID, newSurveyDocument(survey))
}

func (r *SurveyRepository) FindByID(ctx context.Context, surveyID string) (domain.Survey, error) {
	doc, err := r.base.Get(ctx, surveyID)
	if err != nil {
		return domain.Survey{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func surveysNewestFirst(q firestore.Query) firestore.Query {
	return q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
}

func (r *SurveyRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Survey], error) {
	return queryPage(ctx, r.base, pager, func(q firestore.Query) firestore.Query {
		return surveysNewestFirst(q.Where("userId", "==", userID))
	}, surveyFromDoc)
}

func (r *SurveyRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Survey], error) {
	return queryPage(ctx, r.base, pager, surveysNewestFirst, surveyFromDoc)
}
