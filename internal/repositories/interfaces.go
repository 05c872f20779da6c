package repositories

import (
	"context"
	"time"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Products() ProductRepository
	Users() UserRepository
	AnonymousUsers() AnonymousUserRepository
	Carts() CartRepository
	Collaborators() CollaboratorRepository
	Commissions() CommissionRepository
	Orders() OrderRepository
	Surveys() SurveyRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories
// called with the context handed to fn participate in the same transaction; any
// error returned by fn rolls back every write made through that context.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository is the catalog store backing the stock ledger.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByCode(ctx context.Context, code string) (domain.Product, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	// AdjustStock applies delta to the stock counter atomically and returns the updated product.
	// A negative delta larger than the available stock fails with a StockError of code
	// StockErrorInsufficient and leaves the counter unchanged.
	AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error)
}

// UserRepository persists registered customer profiles.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	Save(ctx context.Context, user domain.User) error
}

// AnonymousUserRepository persists guest identities used for carts and order correlation.
type AnonymousUserRepository interface {
	Insert(ctx context.Context, user domain.AnonymousUser) error
	FindByID(ctx context.Context, anonymousUserID string) (domain.AnonymousUser, error)
	FindByIP(ctx context.Context, ip string) (domain.AnonymousUser, error)
	FindByContact(ctx context.Context, name, email, phone string) (domain.AnonymousUser, error)
	// FindMatchingAny returns guests whose IP, email or phone equals any non-empty argument.
	FindMatchingAny(ctx context.Context, ip, email, phone string) ([]domain.AnonymousUser, error)
	// FindByEmailAndPhone returns guests matching both email and phone.
	FindByEmailAndPhone(ctx context.Context, email, phone string) ([]domain.AnonymousUser, error)
}

// CartRepository owns cart header and item persistence. Save replaces the stored item set.
type CartRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.Cart, error)
	FindByAnonymousUser(ctx context.Context, anonymousUserID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, cartID string) error
}

// CollaboratorRepository persists collaborators and their aggregate counters.
type CollaboratorRepository interface {
	Insert(ctx context.Context, collaborator domain.Collaborator) error
	Update(ctx context.Context, collaborator domain.Collaborator) error
	FindByID(ctx context.Context, collaboratorID string) (domain.Collaborator, error)
	FindByUserID(ctx context.Context, userID string) (domain.Collaborator, error)
	FindByReferralCode(ctx context.Context, code string) (domain.Collaborator, error)
	// ListAll returns every collaborator ordered by creation time then id. Inside a
	// transaction the rows are locked until commit.
	ListAll(ctx context.Context) ([]domain.Collaborator, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collaborator], error)
}

// CommissionRepository persists commission records, one per order.
type CommissionRepository interface {
	Insert(ctx context.Context, commission domain.Commission) error
	Update(ctx context.Context, commission domain.Commission) error
	FindByOrderID(ctx context.Context, orderID string) (domain.Commission, error)
	ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Commission], error)
}

// OrderRepository persists orders together with their items. Listings are ordered by
// order date, newest first.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	ListByCollaborator(ctx context.Context, collaboratorID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	ListByAnonymousUsers(ctx context.Context, anonymousUserIDs []string) ([]domain.Order, error)
	// ListExpiring returns non-cancelled orders with at least one item expiring in [from, to].
	ListExpiring(ctx context.Context, from, to time.Time) ([]domain.Order, error)
}

// SurveyRepository persists customer surveys. Listings are ordered by creation time,
// newest first.
type SurveyRepository interface {
	Insert(ctx context.Context, survey domain.Survey) error
	Update(ctx context.Context, survey domain.Survey) error
	FindByID(ctx context.Context, surveyID string) (domain.Survey, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Survey], error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Survey], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
