// Package config loads the service configuration from BQT_* variables, a local .env file and
// Secret Manager references.
package config

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultPostgresMaxOpen      = 20
	defaultPostgresMaxIdle      = 5
	defaultPostgresLifetime     = 30 * time.Minute
	defaultPostgresSlowQuery    = 200 * time.Millisecond
	defaultNotificationsTopic   = "order-notifications"
	defaultOrderEventsTopic     = "order-events"
	defaultCancelWindow         = time.Hour
	defaultExpiryLookahead      = 72 * time.Hour
	defaultExpiryCron           = "0 0 9 * * *"
	defaultOrdersLocale         = "vi"
	defaultGuestRateLimit       = 60
	defaultGuestRateWindow      = time.Minute
	defaultExportPrefix         = "exports/orders"
	defaultExportURLExpiry      = 15 * time.Minute
)

// Persistence drivers accepted by BQT_PERSISTENCE_DRIVER.
const (
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Persistence PersistenceConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	PubSub      PubSubConfig
	Orders      OrdersConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Export      ExportConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PersistenceConfig selects the repository backend.
type PersistenceConfig struct {
	Driver string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the relational backend.
type PostgresConfig struct {
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	SlowQueryThreshold time.Duration
	AutoMigrate        bool
}

// PubSubConfig names the topics used for customer notifications and order events. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID          string
	NotificationsTopic string
	OrderEventsTopic   string
}

// OrdersConfig tunes order lifecycle rules and the expiry reminder job.
type OrdersConfig struct {
	CancelWindow    time.Duration
	ExpiryLookahead time.Duration
	// ExpiryCron uses the six-field (seconds first) cron syntax. Empty disables the in-process schedule.
	ExpiryCron string
	AdminEmail string
	Locale     string
}

// ExportConfig controls archiving of order spreadsheets to Cloud Storage. An empty bucket
// disables archiving; the direct download keeps working.
type ExportConfig struct {
	Bucket    string
	Prefix    string
	SignerKey string
	URLExpiry time.Duration
}

// SecurityConfig groups server-to-server authentication and client identification settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	GuestRate   RateLimitConfig
	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP headers are honoured.
	// Empty means the connection address is always the client address.
	TrustedProxies []netip.Prefix
}

// RateLimitConfig throttles guest checkout per client. Zero Requests disables throttling.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists the settings that are missing, malformed or inconsistent.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid settings [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending setting names: config paths such as "Postgres.DSN" for
// missing values and variable names for values that failed to parse.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secrets         SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile reads local overrides from path instead of ".env". Empty disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// references found in secret-bearing fields.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secrets = resolver }
}

// WithRequiredSecrets fails Load with MissingSecretsError when any of the named fields
// (for example "Postgres.DSN") is empty after resolution.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged raw variables Load would see, so the secret fetcher
// can be configured before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := openSources(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.merged(), nil
}

// Load builds the Config: defaults, then .env, then the process environment, then explicit
// values. Secret references are resolved last and the result is validated.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := openSources(o)
	if err != nil {
		return Config{}, err
	}
	env := &reader{lookup: src.lookup}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.String("BQT_SERVER_PORT", defaultPort),
			ReadTimeout:  env.Duration("BQT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.Duration("BQT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.Duration("BQT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Persistence: PersistenceConfig{Driver: env.Lower("BQT_PERSISTENCE_DRIVER", DriverFirestore)},
		Firebase: FirebaseConfig{
			ProjectID:       env.String("BQT_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.String("BQT_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.String("BQT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.String("BQT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:                env.String("BQT_POSTGRES_DSN", ""),
			MaxOpenConns:       env.Int("BQT_POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxOpen),
			MaxIdleConns:       env.Int("BQT_POSTGRES_MAX_IDLE_CONNS", defaultPostgresMaxIdle),
			ConnMaxLifetime:    env.Duration("BQT_POSTGRES_CONN_MAX_LIFETIME", defaultPostgresLifetime),
			SlowQueryThreshold: env.Duration("BQT_POSTGRES_SLOW_QUERY", defaultPostgresSlowQuery),
			AutoMigrate:        env.Bool("BQT_POSTGRES_AUTO_MIGRATE", false),
		},
		PubSub: PubSubConfig{
			ProjectID:          env.String("BQT_PUBSUB_PROJECT_ID", ""),
			NotificationsTopic: env.String("BQT_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
			OrderEventsTopic:   env.String("BQT_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Orders: OrdersConfig{
			CancelWindow:    env.Duration("BQT_ORDERS_CANCEL_WINDOW", defaultCancelWindow),
			ExpiryLookahead: env.Duration("BQT_ORDERS_EXPIRY_LOOKAHEAD", defaultExpiryLookahead),
			ExpiryCron:      env.String("BQT_ORDERS_EXPIRY_CRON", defaultExpiryCron),
			AdminEmail:      env.String("BQT_ORDERS_ADMIN_EMAIL", ""),
			Locale:          env.String("BQT_ORDERS_LOCALE", defaultOrdersLocale),
		},
		Security: SecurityConfig{
			Environment: env.Lower("BQT_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:   env.String("BQT_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.String("BQT_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.Pairs("BQT_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.List("BQT_SECURITY_OIDC_ISSUERS"),
			},
			GuestRate: RateLimitConfig{
				Requests: env.Int("BQT_SECURITY_GUEST_RATE_LIMIT", defaultGuestRateLimit),
				Window:   env.Duration("BQT_SECURITY_GUEST_RATE_WINDOW", defaultGuestRateWindow),
			},
			TrustedProxies: env.Prefixes("BQT_SECURITY_TRUSTED_PROXIES"),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.String("BQT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.Duration("BQT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.Duration("BQT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.Int("BQT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Export: ExportConfig{
			Bucket:    env.String("BQT_EXPORT_BUCKET", ""),
			Prefix:    env.String("BQT_EXPORT_PREFIX", defaultExportPrefix),
			SignerKey: env.String("BQT_EXPORT_SIGNER_KEY", ""),
			URLExpiry: env.Duration("BQT_EXPORT_URL_EXPIRY", defaultExportURLExpiry),
		},
	}
	applyDerivedDefaults(&cfg)

	if err := resolveSecrets(ctx, &cfg, o.secrets, o.requiredSecrets); err != nil {
		return Config{}, err
	}
	if invalid := append(env.invalid, validate(cfg)...); len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

// applyDerivedDefaults fills settings that default to other settings.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}
}

func validate(cfg Config) []string {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	switch cfg.Persistence.Driver {
	case DriverFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case DriverPostgres:
		require(strings.TrimSpace(cfg.Postgres.DSN) != "", "Postgres.DSN")
	case DriverMemory:
	default:
		bad = append(bad, "Persistence.Driver")
	}
	if cfg.Persistence.Driver != DriverMemory {
		require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	}
	require(cfg.Orders.CancelWindow > 0, "Orders.CancelWindow")
	require(cfg.Orders.ExpiryLookahead > 0, "Orders.ExpiryLookahead")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	if cfg.Export.Bucket != "" {
		require(cfg.Export.URLExpiry > 0 && cfg.Export.URLExpiry <= time.Hour, "Export.URLExpiry")
	}
	if cfg.Security.GuestRate.Requests > 0 {
		require(cfg.Security.GuestRate.Window > 0, "Security.GuestRate.Window")
	}
	return bad
}
