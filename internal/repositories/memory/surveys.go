package memory

import (
	"context"
	"sort"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

type surveyRepo struct{ s *Store }

func (r surveyRepo) Insert(ctx context.Context, survey domain.Survey) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.surveys[survey.ID]; ok {
			return conflict("surveys.insert", "survey id exists")
		}
		st.surveys[survey.ID] = cloneSurvey(survey)
		return nil
	})
}

func (r surveyRepo) Update(ctx context.Context, survey domain.Survey) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.surveys[survey.ID]; !ok {
			return notFound("surveys.update")
		}
		st.surveys[survey.ID] = cloneSurvey(survey)
		return nil
	})
}

func (r surveyRepo) FindByID(ctx context.Context, surveyID string) (domain.Survey, error) {
	var out domain.Survey
	err := r.s.read(ctx, func(st *state) error {
		v, ok := st.surveys[surveyID]
		if !ok {
			return notFound("surveys.get")
		}
		out = cloneSurvey(v)
		return nil
	})
	return out, err
}

func (r surveyRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Survey], error) {
	return repositories.SlicePage(r.filter(ctx, func(v domain.Survey) bool { return v.UserID == userID }), pager)
}

func (r surveyRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Survey], error) {
	return repositories.SlicePage(r.filter(ctx, func(domain.Survey) bool { return true }), pager)
}

func (r surveyRepo) filter(ctx context.Context, match func(domain.Survey) bool) []domain.Survey {
	var out []domain.Survey
	_ = r.s.read(ctx, func(st *state) error {
		for _, v := range st.surveys {
			if match(v) {
				out = append(out, cloneSurvey(v))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
