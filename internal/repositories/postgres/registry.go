// Package postgres implements the repositories on PostgreSQL through gorm. Stock adjustments are
// conditional updates and collaborator selection locks rows with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/config"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

type txKey struct{}

// Registry wires every relational repository over one gorm handle.
type Registry struct {
	db *gorm.DB
}

var _ repositories.Registry = (*Registry)(nil)

// Open connects to PostgreSQL, applies pool settings and optionally migrates the schema.
func Open(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Registry, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := gorm.Open(gormpostgres.Open(cfg.DSN), &gorm.Config{
		Logger:         NewGormLogger(logger, cfg.SlowQueryThreshold),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres: db is required")
	}
	return &Registry{db: db}, nil
}

// DB exposes the underlying handle for infrastructure that shares the connection pool.
func (r *Registry) DB() *gorm.DB { return r.db }

func (r *Registry) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Registry) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return classify("postgres.ping", sqlDB.PingContext(ctx))
}

func (r *Registry) Products() repositories.ProductRepository             { return &ProductRepository{r} }
func (r *Registry) Users() repositories.UserRepository                   { return &UserRepository{r} }
func (r *Registry) AnonymousUsers() repositories.AnonymousUserRepository { return &AnonymousUserRepository{r} }
func (r *Registry) Carts() repositories.CartRepository                   { return &CartRepository{r} }
func (r *Registry) Collaborators() repositories.CollaboratorRepository   { return &CollaboratorRepository{r} }
func (r *Registry) Commissions() repositories.CommissionRepository       { return &CommissionRepository{r} }
func (r *Registry) Orders() repositories.OrderRepository                 { return &OrderRepository{r} }
func (r *Registry) Surveys() repositories.SurveyRepository               { return &SurveyRepository{r} }

// RunInTx runs fn inside a database transaction carried by the context. Nested calls join the
// outer transaction; any error returned by fn rolls everything back.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is required")
	}
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *Registry) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

func findPage[M any, T any](query *gorm.DB, op string, pager domain.Pagination, convert func(M) T) (domain.CursorPage[T], error) {
	offset, limit, err := repositories.PageWindow(pager)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	var models []M
	if err := query.Offset(offset).Limit(limit + 1).Find(&models).Error; err != nil {
		return domain.CursorPage[T]{}, classify(op, err)
	}
	items := make([]T, 0, len(models))
	for _, m := range models {
		items = append(items, convert(m))
	}
	return repositories.BuildPage(items, offset, limit), nil
}
