// Package firestore implements the repositories on Cloud Firestore. Transactions buffer their
// writes until commit, see platform/firestore.Tx.
package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	pfirestore "github.com/YunomiXavia/beQuanTri/internal/platform/firestore"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// Registry wires every Firestore repository over a shared provider.
type Registry struct {
	provider      *pfirestore.Provider
	products      *ProductRepository
	users         *UserRepository
	anonymous     *AnonymousUserRepository
	carts         *CartRepository
	collaborators *CollaboratorRepository
	commissions   *CommissionRepository
	orders        *OrderRepository
	surveys       *SurveyRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore registry.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	return &Registry{
		provider:      provider,
		products:      &ProductRepository{provider: provider, base: pfirestore.NewCollection[productDocument](provider, productsCollection)},
		users:         &UserRepository{base: pfirestore.NewCollection[userDocument](provider, usersCollection)},
		anonymous:     &AnonymousUserRepository{base: pfirestore.NewCollection[anonymousUserDocument](provider, anonymousUserCollection)},
		carts:         &CartRepository{base: pfirestore.NewCollection[cartDocument](provider, cartsCollection)},
		collaborators: &CollaboratorRepository{provider: provider, base: pfirestore.NewCollection[collaboratorDocument](provider, collaboratorsCollection)},
		commissions:   &CommissionRepository{base: pfirestore.NewCollection[commissionDocument](provider, commissionsCollection)},
		orders:        &OrderRepository{base: pfirestore.NewCollection[orderDocument](provider, ordersCollection)},
		surveys:       &SurveyRepository{base: pfirestore.NewCollection[surveyDocument](provider, surveysCollection)},
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Ping(ctx context.Context) error  { return r.provider.Ping(ctx) }

func (r *Registry) Products() repositories.ProductRepository             { return r.products }
func (r *Registry) Users() repositories.UserRepository                   { return r.users }
func (r *Registry) AnonymousUsers() repositories.AnonymousUserRepository { return r.anonymous }
func (r *Registry) Carts() repositories.CartRepository                   { return r.carts }
func (r *Registry) Collaborators() repositories.CollaboratorRepository   { return r.collaborators }
func (r *Registry) Commissions() repositories.CommissionRepository       { return r.commissions }
func (r *Registry) Orders() repositories.OrderRepository                 { return r.orders }
func (r *Registry) Surveys() repositories.SurveyRepository               { return r.surveys }

// RunInTx runs fn in a Firestore transaction; nested calls join it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

func queryPage[D any, T any](ctx context.Context, base *pfirestore.Collection[D], pager domain.Pagination, build pfirestore.QueryBuilder, convert func(string, D) T) (domain.CursorPage[T], error) {
	offset, limit, err := repositories.PageWindow(pager)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return build(q).Offset(offset).Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		items = append(items, convert(doc.ID, doc.Data))
	}
	return repositories.BuildPage(items, offset, limit), nil
}

func convertAll[D any, T any](docs []pfirestore.Document[D], convert func(string, D) T) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		out = append(out, convert(doc.ID, doc.Data))
	}
	return out
}
