package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/config"
	"github.com/YunomiXavia/beQuanTri/internal/platform/observability"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Stock         services.StockLedger
	Carts         services.CartService
	Collaborators services.CollaboratorService
	Commissions   services.CommissionLedger
	Orders        services.OrderService
	Users         services.UserService
	Surveys       services.SurveyService
	Expiry        services.ExpiryNotifier
	Exporter      services.OrderExporter
	System        services.SystemService
}

// Externals carries the infrastructure adapters the services publish to. Nil adapters disable
// the matching feature: no Notifier means no expiry sweep and no Roles means collaborator
// creation does not touch identity claims.
type Externals struct {
	Notifier services.Notifier
	Events   services.OrderEventPublisher
	Roles    services.RoleGranter
	Firebase auth.UserGetter
	Health   repositories.HealthRepository
	Jobs     services.JobMonitor
	Build    services.BuildInfo
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Firestore or
// PostgreSQL registry, while tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, ext Externals) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, ext)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, ext Externals) (Services, error) {
	var svc Services
	base := ext.Logger
	if base == nil {
		base = zap.NewNop()
	}
	clock := ext.Clock
	if clock == nil {
		clock = time.Now
	}
	logFor := func(name string) func(context.Context, string, map[string]any) {
		return observability.ServiceLogger(base.Named(name))
	}

	stock, err := services.NewStockLedger(services.StockLedgerDeps{
		Products:   reg.Products(),
		UnitOfWork: reg,
		Clock:      clock,
		Logger:     logFor("stock"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}
	svc.Stock = stock

	carts, err := services.NewCartService(services.CartServiceDeps{
		Carts:          reg.Carts(),
		AnonymousUsers: reg.AnonymousUsers(),
		Stock:          stock,
		UnitOfWork:     reg,
		Clock:          clock,
		Logger:         logFor("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Carts = carts

	collaborators, err := services.NewCollaboratorService(services.CollaboratorServiceDeps{
		Collaborators: reg.Collaborators(),
		UnitOfWork:    reg,
		Clock:         clock,
		Roles:         ext.Roles,
		Logger:        logFor("collaborators"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build collaborator service: %w", err)
	}
	svc.Collaborators = collaborators

	commissions, err := services.NewCommissionLedger(services.CommissionLedgerDeps{
		Commissions:   reg.Commissions(),
		Collaborators: reg.Collaborators(),
		UnitOfWork:    reg,
		Clock:         clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build commission ledger: %w", err)
	}
	svc.Commissions = commissions

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Carts:          reg.Carts(),
		Users:          reg.Users(),
		AnonymousUsers: reg.AnonymousUsers(),
		Collaborators:  reg.Collaborators(),
		Stock:          stock,
		CartService:    carts,
		Directory:      collaborators,
		Commissions:    commissions,
		UnitOfWork:     reg,
		CancelWindow:   cfg.Orders.CancelWindow,
		Clock:          clock,
		Events:         ext.Events,
		Logger:         logFor("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	users, err := services.NewUserService(services.UserServiceDeps{
		Users:    reg.Users(),
		Firebase: ext.Firebase,
		Clock:    clock,
		Logger:   logFor("users"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = users

	surveys, err := services.NewSurveyService(services.SurveyServiceDeps{
		Surveys:       reg.Surveys(),
		Users:         reg.Users(),
		Collaborators: reg.Collaborators(),
		UnitOfWork:    reg,
		Clock:         clock,
		Logger:        logFor("surveys"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build survey service: %w", err)
	}
	svc.Surveys = surveys

	exporter, err := services.NewOrderExporter(services.OrderExporterDeps{
		Orders: reg.Orders(),
		Logger: logFor("export"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order exporter: %w", err)
	}
	svc.Exporter = exporter

	if ext.Notifier != nil {
		expiry, err := services.NewExpiryNotifier(services.ExpiryNotifierDeps{
			Orders:         reg.Orders(),
			Users:          reg.Users(),
			AnonymousUsers: reg.AnonymousUsers(),
			Collaborators:  reg.Collaborators(),
			Notifier:       ext.Notifier,
			AdminEmail:     cfg.Orders.AdminEmail,
			Lookahead:      cfg.Orders.ExpiryLookahead,
			Locale:         cfg.Orders.Locale,
			Logger:         logFor("expiry"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build expiry notifier: %w", err)
		}
		svc.Expiry = expiry
	}

	health := ext.Health
	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
			Name:     "repositories",
			Critical: true,
			Check:    reg.Ping,
		}})
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Jobs:             ext.Jobs,
		Backend:          cfg.Persistence.Driver,
		Clock:            clock,
		Build:            ext.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}
