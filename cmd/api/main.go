package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/YunomiXavia/beQuanTri/internal/di"
	"github.com/YunomiXavia/beQuanTri/internal/handlers"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/config"
	pfirestore "github.com/YunomiXavia/beQuanTri/internal/platform/firestore"
	"github.com/YunomiXavia/beQuanTri/internal/platform/idempotency"
	"github.com/YunomiXavia/beQuanTri/internal/platform/jobs"
	"github.com/YunomiXavia/beQuanTri/internal/platform/observability"
	"github.com/YunomiXavia/beQuanTri/internal/platform/secrets"
	"github.com/YunomiXavia/beQuanTri/internal/platform/storage"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
	firestoreRepo "github.com/YunomiXavia/beQuanTri/internal/repositories/firestore"
	"github.com/YunomiXavia/beQuanTri/internal/repositories/memory"
	"github.com/YunomiXavia/beQuanTri/internal/repositories/postgres"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const meterName = "github.com/YunomiXavia/beQuanTri"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise persistence", zap.String("driver", cfg.Persistence.Driver), zap.Error(err))
	}

	var (
		authenticator *auth.Authenticator
		externals     = di.Externals{Logger: baseLogger, Build: buildInfo}
	)
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authenticator = auth.NewAuthenticator(firebaseVerifier)
		externals.Firebase = firebaseVerifier
		externals.Roles = firebaseVerifier
	} else if cfg.Persistence.Driver != config.DriverMemory {
		logger.Fatal("firebase project id is required outside the memory driver")
	} else {
		logger.Warn("auth: firebase not configured; routes run without token verification")
	}

	publishers, closePubSub, err := newPublishers(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise pubsub", zap.Error(err))
	}
	defer closePubSub()
	externals.Notifier = publishers.notifier

	var healthFetcher *secrets.Fetcher
	if secretProjectID(envValues) != "" {
		healthFetcher = fetcher
	}
	externals.Health, err = newHealthRepository(store.registry, healthFetcher)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	scheduler := jobs.NewScheduler(logger)
	externals.Jobs = scheduler

	// The order feed needs the collaborator directory, which the container builds, while the
	// order service needs the feed as a publisher. The fanout is filled in once both exist.
	fanout := &services.OrderEventFanout{publishers.events}
	externals.Events = fanout

	container, err := di.NewContainer(ctx, cfg, store.registry, externals)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	orderFeed := handlers.NewOrderFeed(authenticator, svc.Collaborators, baseLogger)
	*fanout = append(*fanout, orderFeed)

	idempotencyStore, err := newIdempotencyStore(ctx, cfg, store)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupLogger := logger.Named("idempotency")
		err := scheduler.Every("idempotency-cleanup", cfg.Idempotency.CleanupInterval, func(ctx context.Context) error {
			removed, err := idempotencyStore.Purge(ctx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			if err != nil {
				return err
			}
			if removed > 0 {
				cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
			return nil
		})
		if err != nil {
			logger.Fatal("failed to schedule idempotency cleanup", zap.Error(err))
		}
	}
	if svc.Expiry != nil && strings.TrimSpace(cfg.Orders.ExpiryCron) != "" {
		expiryLogger := logger.Named("expiry")
		err := scheduler.Add("expiry-sweep", cfg.Orders.ExpiryCron, func(ctx context.Context) error {
			result, err := svc.Expiry.Sweep(ctx, time.Now())
			if err != nil {
				return err
			}
			expiryLogger.Info("expiry sweep finished",
				zap.Int("orders", result.Orders),
				zap.Int("sent", result.Sent),
				zap.Int("failed", result.Failed),
			)
			return nil
		})
		if err != nil {
			logger.Fatal("failed to schedule expiry sweep", zap.Error(err))
		}
	}
	scheduler.Start()

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, handlers.WithOrderIdempotency(idempotencyMiddleware))
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Carts)
	collaboratorHandlers := handlers.NewCollaboratorHandlers(authenticator, svc.Collaborators, svc.Commissions, orderHandlers)
	productHandlers := handlers.NewAdminProductHandlers(authenticator, svc.Stock)
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Users, svc.Orders)
	surveyHandlers := handlers.NewSurveyHandlers(authenticator, svc.Surveys)
	var exportOpts []handlers.OrderExportOption
	if archive, closeArchive, err := newExportArchive(ctx, cfg, logger); err != nil {
		logger.Fatal("failed to initialise export archive", zap.Error(err))
	} else if archive != nil {
		defer closeArchive()
		exportOpts = append(exportOpts, handlers.WithExportArchive(archive))
	}
	exportHandlers := handlers.NewOrderExportHandlers(authenticator, svc.Exporter, exportOpts...)
	internalHandlers := handlers.NewInternalHandlers(svc.Expiry, handlers.WithIdempotencyCleanup(idempotencyStore.Purge))

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.ClientIPMiddleware(cfg.Security.TrustedProxies),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithRoutes(handlers.GroupOrders, orderHandlers.Routes),
		handlers.WithRoutes(handlers.GroupCart, cartHandlers.Routes),
		handlers.WithGroupMiddlewares(handlers.GroupAnonymous,
			handlers.OptionalAuth(authenticator),
			handlers.RateLimitByClient(cfg.Security.GuestRate.Requests, cfg.Security.GuestRate.Window),
		),
		handlers.WithRoutes(handlers.GroupAnonymous, orderHandlers.AnonymousRoutes, cartHandlers.AnonymousRoutes),
		handlers.WithRoutes(handlers.GroupUsers, orderHandlers.UserRoutes, meHandlers.UserRoutes, surveyHandlers.UserRoutes),
		handlers.WithRoutes(handlers.GroupCollaborators, collaboratorHandlers.Routes),
		handlers.WithRoutes(handlers.GroupAdmin,
			orderHandlers.AdminRoutes,
			collaboratorHandlers.AdminRoutes,
			productHandlers.Routes,
			orderFeed.Routes,
			exportHandlers.Routes,
		),
		handlers.WithRoutes(handlers.GroupMe, meHandlers.Routes),
		handlers.WithRoutes(handlers.GroupSurveys, surveyHandlers.Routes),
		handlers.WithRoutes(handlers.GroupInternal, internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithGroupMiddlewares(handlers.GroupInternal, oidcMiddleware))
	}
	router := handlers.NewRouter(opts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("driver", cfg.Persistence.Driver))
	go func() {
		serverLogger.Info("beQuanTri api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	scheduler.Stop()
	orderFeed.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

type persistence struct {
	registry repositories.Registry
	postgres *postgres.Registry
	firestore *pfirestore.Provider
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (persistence, error) {
	switch cfg.Persistence.Driver {
	case config.DriverPostgres:
		reg, err := postgres.Open(ctx, cfg.Postgres, logger.Named("postgres"))
		if err != nil {
			return persistence{}, err
		}
		return persistence{registry: reg, postgres: reg}, nil
	case config.DriverMemory:
		logger.Warn("persistence: using the in-memory store; data is lost on restart")
		return persistence{registry: memory.NewStore()}, nil
	case config.DriverFirestore, "":
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return persistence{}, err
		}
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return persistence{}, err
		}
		return persistence{registry: reg, firestore: provider}, nil
	default:
		return persistence{}, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver)
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.Config, store persistence) (idempotency.Store, error) {
	switch {
	case store.postgres != nil:
		pg := idempotency.NewPostgresStore(store.postgres.DB())
		if cfg.Postgres.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return pg, nil
	case store.firestore != nil:
		client, err := store.firestore.Client(ctx)
		if err != nil {
			return nil, err
		}
		return idempotency.NewFirestoreStore(client), nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

type publisherSet struct {
	notifier services.Notifier
	events   services.OrderEventPublisher
}

// newPublishers connects to Pub/Sub when a project is configured and falls back to log-only
// publishers otherwise.
func newPublishers(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisherSet, func(), error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		logger.Info("pubsub: project not configured; notifications and order events are logged only")
		return publisherSet{
			notifier: jobs.NewLogNotifier(logger),
			events:   jobs.NewLogOrderEventPublisher(logger),
		}, func() {}, nil
	}

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return publisherSet{}, nil, err
	}

	notifications := client.Topic(cfg.PubSub.NotificationsTopic)
	events := client.Topic(cfg.PubSub.OrderEventsTopic)
	events.EnableMessageOrdering = true

	notifier, err := jobs.NewPubSubNotifier(notifications)
	if err != nil {
		_ = client.Close()
		return publisherSet{}, nil, err
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(events)
	if err != nil {
		_ = client.Close()
		return publisherSet{}, nil, err
	}

	closeFn := func() {
		notifications.Stop()
		events.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisherSet{notifier: notifier, events: publisher}, closeFn, nil
}

// newExportArchive returns nil when no export bucket is configured.
func newExportArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (*storage.Archive, func(), error) {
	bucket := strings.TrimSpace(cfg.Export.Bucket)
	if bucket == "" {
		logger.Info("export: bucket not configured; archived exports disabled")
		return nil, nil, nil
	}
	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, nil, err
	}
	writer, err := storage.NewGCSWriter(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	var signer storage.URLSigner
	if key := strings.TrimSpace(cfg.Export.SignerKey); key != "" {
		signer, err = storage.NewKeySigner(key)
	} else {
		signer, err = storage.NewClientSigner(client)
	}
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	archive, err := storage.NewArchive(writer, signer, bucket,
		storage.WithArchivePrefix(cfg.Export.Prefix),
		storage.WithURLExpiry(cfg.Export.URLExpiry),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
	return archive, closeFn, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["BQT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["BQT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(reg repositories.Registry, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:     "orderStore",
		Critical: true,
		Timeout:  1500 * time.Millisecond,
		Check:    reg.Ping,
	}}
	if fetcher != nil {
		const secretHealthReference = "secret://system_healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	oidcOpts := []auth.OIDCOption{auth.WithOIDCLogger(logger)}
	if recorder, err := auth.NewMeterRecorder(otel.GetMeterProvider().Meter(meterName)); err != nil {
		logger.Warn("auth: OIDC metrics unavailable", zap.Error(err))
	} else {
		oidcOpts = append(oidcOpts, auth.WithOIDCMetrics(recorder))
	}
	validator := auth.NewOIDCValidator(cache, oidcOpts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		audience = strings.TrimSpace(cfg.Security.OIDC.Audiences["internal"])
	}
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	project := secretProjectID(env)
	fallbackPath := lookup("BQT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.GetMeterProvider().Meter(meterName)),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if pins := parseKeyValueList(lookup("BQT_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("BQT_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func secretProjectID(env map[string]string) string {
	if project := strings.TrimSpace(env["BQT_SECRET_PROJECT_ID"]); project != "" {
		return project
	}
	return strings.TrimSpace(env["BQT_FIREBASE_PROJECT_ID"])
}

// requiredSecretNames lists secrets that must resolve for the selected driver and features.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.ToLower(strings.TrimSpace(env["BQT_PERSISTENCE_DRIVER"])) == config.DriverPostgres {
		required = append(required, "Postgres.DSN")
	}
	return required
}

func parseKeyValueList(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
