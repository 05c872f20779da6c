package postgres

import (
	"context"

	"gorm.io/gorm/clause"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// SurveyRepository stores customer surveys in a single table.
type SurveyRepository struct{ reg *Registry }

func (r *SurveyRepository) Insert(ctx context.Context, survey domain.Survey) error {
	m := newSurveyModel(survey)
	return classify("surveys.insert", r.reg.conn(ctx).Create(&m).Error)
}

func (r *SurveyRepository) Update(ctx context.Context, survey domain.Survey) error {
	m := newSurveyModel(survey)
	res := r.reg.conn(ctx).Model(&surveyModel{}).Where("id = ?", survey.ID).
		Select("collaborator_id", "status", "question", "response", "responded_at", "updated_at").Updates(&m)
	if res.Error != nil {
		return classify("surveys.update", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.NewNotFoundError("surveys.update", nil)
	}
	return nil
}

// FindByID locks the row when called inside a transaction so concurrent handlers of the
// same survey serialise until commit.
func (r *SurveyRepository) FindByID(ctx context.Context, surveyID string) (domain.Survey, error) {
	db := r.reg.conn(ctx)
	if inTx(ctx) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m surveyModel
	if err := db.Take(&m, "id = ?", surveyID).Error; err != nil {
		return domain.Survey{}, classify("surveys.get", err)
	}
	return m.toDomain(), nil
}

func (r *SurveyRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Survey], error) {
	query := r.reg.conn(ctx).Model(&surveyModel{}).Where("user_id = ?", userID).Order("created_at DESC, id DESC")
	return findPage(query, "surveys.list_by_user", pager, surveyModel.toDomain)
}

func (r *SurveyRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Survey], error) {
	query := r.reg.conn(ctx).Model(&surveyModel{}).Order("created_at DESC, id DESC")
	return findPage(query, "surveys.list", pager, surveyModel.toDomain)
}
