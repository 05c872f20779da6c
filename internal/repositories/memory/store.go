// Package memory provides an in-process repositories.Registry used for local
// development and tests. Transactions are serialised and run against a private
// copy of the data that replaces the committed state only when fn succeeds.
package memory

import (
	"context"
	"errors"
	"sync"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

type txKey struct{ s *Store }

type state struct {
	products      map[string]domain.Product
	users         map[string]domain.User
	anonymous     map[string]domain.AnonymousUser
	carts         map[string]domain.Cart
	collaborators map[string]domain.Collaborator
	commissions   map[string]domain.Commission
	orders        map[string]domain.Order
	surveys       map[string]domain.Survey
}

func newState() *state {
	return &state{
		products:      make(map[string]domain.Product),
		users:         make(map[string]domain.User),
		anonymous:     make(map[string]domain.AnonymousUser),
		carts:         make(map[string]domain.Cart),
		collaborators: make(map[string]domain.Collaborator),
		commissions:   make(map[string]domain.Commission),
		orders:        make(map[string]domain.Order),
		surveys:       make(map[string]domain.Survey),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.anonymous {
		out.anonymous[k] = v
	}
	for k, v := range s.carts {
		out.carts[k] = cloneCart(v)
	}
	for k, v := range s.collaborators {
		out.collaborators[k] = v
	}
	for k, v := range s.commissions {
		out.commissions[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.surveys {
		out.surveys[k] = cloneSurvey(v)
	}
	return out
}

// Store is the in-memory registry.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

func (s *Store) Close(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error  { return nil }

func (s *Store) Products() repositories.ProductRepository             { return productRepo{s} }
func (s *Store) Users() repositories.UserRepository                   { return userRepo{s} }
func (s *Store) AnonymousUsers() repositories.AnonymousUserRepository { return anonymousRepo{s} }
func (s *Store) Carts() repositories.CartRepository                   { return cartRepo{s} }
func (s *Store) Collaborators() repositories.CollaboratorRepository   { return collaboratorRepo{s} }
func (s *Store) Commissions() repositories.CommissionRepository       { return commissionRepo{s} }
func (s *Store) Orders() repositories.OrderRepository                 { return orderRepo{s} }
func (s *Store) Surveys() repositories.SurveyRepository               { return surveyRepo{s} }

// RunInTx serialises fn against every other writer. Reads and writes made with the
// context handed to fn see a working copy that becomes visible to other callers
// only when fn returns nil. An error or a panic discards it. Nested calls join the
// outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.working(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{s}, work)); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) working(ctx context.Context) *state {
	work, _ := ctx.Value(txKey{s}).(*state)
	return work
}

func (s *Store) read(ctx context.Context, fn func(*state) error) error {
	if work := s.working(ctx); work != nil {
		return fn(work)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

// write applies a single mutation. Outside a transaction fn must either fail before
// touching st or complete its change.
func (s *Store) write(ctx context.Context, fn func(*state) error) error {
	if work := s.working(ctx); work != nil {
		return fn(work)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func cloneCart(c domain.Cart) domain.Cart {
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.StartDate != nil {
		v := *o.StartDate
		o.StartDate = &v
	}
	if o.EndDate != nil {
		v := *o.EndDate
		o.EndDate = &v
	}
	return o
}

func cloneSurvey(v domain.Survey) domain.Survey {
	if v.RespondedAt != nil {
		t := *v.RespondedAt
		v.RespondedAt = &t
	}
	return v
}

func notFound(op string) error {
	return repositories.NewNotFoundError(op, nil)
}

func conflict(op, reason string) error {
	return repositories.NewConflictError(op, errors.New(reason))
}
