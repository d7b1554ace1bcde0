package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDBMaxOpenConns       = 10
	defaultDBMaxIdleConns       = 5
	defaultDBConnMaxLifetime    = 30 * time.Minute
	defaultAuthProvider         = "supabase"
	defaultAdminRole            = "admin"
	defaultAuthVerifyTimeout    = 5 * time.Second
	defaultStorageProvider      = "supabase"
	defaultStorageBucket        = "order-photos"
	defaultUploadTimeout        = 30 * time.Second
	defaultUploadMaxBytes       = 8 << 20
	defaultPSPProvider          = "mercadopago"
	defaultPSPCurrency          = "ARS"
	defaultPSPTimeout           = 15 * time.Second
	defaultMailTimeout          = 10 * time.Second
	defaultMailFromName         = "Pulsera"
	defaultRateLimitCheckout    = 30
	defaultRateLimitOrderLookup = 120
	defaultSecurityEnvironment  = "local"
	defaultIdempotencyBackend   = "memory"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	Supabase    SupabaseConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Mail        MailConfig
	Events      EventsConfig
	Firestore   FirestoreConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// AuthConfig selects the session verifier and the admin policy.
type AuthConfig struct {
	Provider                string
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	AdminEmails             []string
	AdminRole               string
	VerifyTimeout           time.Duration
}

// SupabaseConfig holds the project endpoint shared by the Supabase auth and storage clients.
type SupabaseConfig struct {
	URL       string
	APIKey    string
	JWTSecret string
}

// StorageConfig configures the object store used for order item photos.
type StorageConfig struct {
	Provider       string
	Bucket         string
	PublicBaseURL  string
	UploadTimeout  time.Duration
	MaxUploadBytes int64
}

// PSPConfig collects payment provider credentials and checkout redirects.
type PSPConfig struct {
	DefaultProvider            string
	Currency                   string
	Timeout                    time.Duration
	Mock                       bool
	MercadoPagoAccessToken     string
	MercadoPagoWebhookSecret   string
	MercadoPagoSignatureMaxAge time.Duration
	StripeAPIKey               string
	StripeWebhookSecret        string
	NotificationURL            string
	SuccessURL                 string
	PendingURL                 string
	FailureURL                 string
}

// MailConfig configures transactional email delivery.
type MailConfig struct {
	SendGridAPIKey  string
	From            string
	FromName        string
	AdminRecipients []string
	Timeout         time.Duration
	// OrderLookupURL is the storefront page customers use to follow an order. The order id and
	// access token are appended as /{id}?token={token}.
	OrderLookupURL string
}

// EventsConfig configures order event publishing. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID  string
	OrderTopic string
}

// FirestoreConfig stores parameters for the Firestore backed idempotency store.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RateLimitConfig controls request throttling on public endpoints.
type RateLimitConfig struct {
	CheckoutPerMinute    int
	OrderLookupPerMinute int
}

// SecurityConfig groups deployment level security settings.
type SecurityConfig struct {
	Environment string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error reports the redacted identifiers so secret names never reach logs verbatim.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers of the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the missing secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "PSP.MercadoPagoWebhookSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the effective environment after applying the Load precedence
// (dotenv < process env < explicit map). It lets callers build the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:             stringWithDefault(lookup, "API_DATABASE_URL", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDBConnMaxLifetime),
			AutoMigrate:     boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", false),
		},
		Auth: AuthConfig{
			Provider:                strings.ToLower(stringWithDefault(lookup, "API_AUTH_PROVIDER", defaultAuthProvider)),
			FirebaseProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			FirebaseCredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			AdminEmails:             lowerCSV(csvWithDefault(lookup, "API_AUTH_ADMIN_EMAILS")),
			AdminRole:               stringWithDefault(lookup, "API_AUTH_ADMIN_ROLE", defaultAdminRole),
			VerifyTimeout:           durationWithDefault(lookup, "API_AUTH_VERIFY_TIMEOUT", defaultAuthVerifyTimeout),
		},
		Supabase: SupabaseConfig{
			URL:       strings.TrimRight(stringWithDefault(lookup, "API_SUPABASE_URL", ""), "/"),
			APIKey:    stringWithDefault(lookup, "API_SUPABASE_API_KEY", ""),
			JWTSecret: stringWithDefault(lookup, "API_SUPABASE_JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			Provider:       strings.ToLower(stringWithDefault(lookup, "API_STORAGE_PROVIDER", defaultStorageProvider)),
			Bucket:         stringWithDefault(lookup, "API_STORAGE_BUCKET", defaultStorageBucket),
			PublicBaseURL:  strings.TrimRight(stringWithDefault(lookup, "API_STORAGE_PUBLIC_BASE_URL", ""), "/"),
			UploadTimeout:  durationWithDefault(lookup, "API_STORAGE_UPLOAD_TIMEOUT", defaultUploadTimeout),
			MaxUploadBytes: int64(intWithDefault(lookup, "API_STORAGE_MAX_UPLOAD_BYTES", defaultUploadMaxBytes)),
		},
		PSP: PSPConfig{
			DefaultProvider:            strings.ToLower(stringWithDefault(lookup, "API_PSP_DEFAULT_PROVIDER", defaultPSPProvider)),
			Currency:                   strings.ToUpper(stringWithDefault(lookup, "API_PSP_CURRENCY", defaultPSPCurrency)),
			Timeout:                    durationWithDefault(lookup, "API_PSP_TIMEOUT", defaultPSPTimeout),
			Mock:                       boolWithDefault(lookup, "API_PSP_MOCK", false),
			MercadoPagoAccessToken:     stringWithDefault(lookup, "API_PSP_MERCADOPAGO_ACCESS_TOKEN", ""),
			MercadoPagoWebhookSecret:   stringWithDefault(lookup, "API_PSP_MERCADOPAGO_WEBHOOK_SECRET", ""),
			MercadoPagoSignatureMaxAge: durationWithDefault(lookup, "API_PSP_MERCADOPAGO_SIGNATURE_TOLERANCE", 0),
			StripeAPIKey:               stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret:        stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			NotificationURL:            stringWithDefault(lookup, "API_PSP_NOTIFICATION_URL", ""),
			SuccessURL:                 stringWithDefault(lookup, "API_PSP_SUCCESS_URL", ""),
			PendingURL:                 stringWithDefault(lookup, "API_PSP_PENDING_URL", ""),
			FailureURL:                 stringWithDefault(lookup, "API_PSP_FAILURE_URL", ""),
		},
		Mail: MailConfig{
			SendGridAPIKey:  stringWithDefault(lookup, "API_MAIL_SENDGRID_API_KEY", ""),
			From:            stringWithDefault(lookup, "API_MAIL_FROM", ""),
			FromName:        stringWithDefault(lookup, "API_MAIL_FROM_NAME", defaultMailFromName),
			AdminRecipients: csvWithDefault(lookup, "API_MAIL_ADMIN_RECIPIENTS"),
			Timeout:         durationWithDefault(lookup, "API_MAIL_TIMEOUT", defaultMailTimeout),
			OrderLookupURL:  strings.TrimRight(stringWithDefault(lookup, "API_MAIL_ORDER_LOOKUP_URL", ""), "/"),
		},
		Events: EventsConfig{
			ProjectID:  stringWithDefault(lookup, "API_EVENTS_PROJECT_ID", ""),
			OrderTopic: stringWithDefault(lookup, "API_EVENTS_ORDER_TOPIC", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		RateLimits: RateLimitConfig{
			CheckoutPerMinute:    intWithDefault(lookup, "API_RATELIMIT_CHECKOUT_PER_MIN", defaultRateLimitCheckout),
			OrderLookupPerMinute: intWithDefault(lookup, "API_RATELIMIT_ORDER_LOOKUP_PER_MIN", defaultRateLimitOrderLookup),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Auth.FirebaseProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Auth.FirebaseProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"Supabase.APIKey", &cfg.Supabase.APIKey},
		{"Supabase.JWTSecret", &cfg.Supabase.JWTSecret},
		{"PSP.MercadoPagoAccessToken", &cfg.PSP.MercadoPagoAccessToken},
		{"PSP.MercadoPagoWebhookSecret", &cfg.PSP.MercadoPagoWebhookSecret},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Mail.SendGridAPIKey", &cfg.Mail.SendGridAPIKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		missing = append(missing, "Database.URL")
	}

	switch cfg.Auth.Provider {
	case "firebase":
		if cfg.Auth.FirebaseProjectID == "" {
			missing = append(missing, "Auth.FirebaseProjectID")
		}
	case "supabase":
		if cfg.Supabase.URL == "" {
			missing = append(missing, "Supabase.URL")
		}
		if cfg.Supabase.JWTSecret == "" && cfg.Supabase.APIKey == "" {
			missing = append(missing, "Supabase.JWTSecret")
		}
	default:
		missing = append(missing, "Auth.Provider")
	}

	switch cfg.Storage.Provider {
	case "gcs":
	case "supabase":
		if cfg.Supabase.URL == "" || cfg.Supabase.APIKey == "" {
			missing = append(missing, "Supabase.APIKey")
		}
	default:
		missing = append(missing, "Storage.Provider")
	}
	if cfg.Storage.Bucket == "" {
		missing = append(missing, "Storage.Bucket")
	}
	if cfg.Storage.MaxUploadBytes <= 0 {
		missing = append(missing, "Storage.MaxUploadBytes")
	}

	switch cfg.PSP.DefaultProvider {
	case "mercadopago":
		if !cfg.PSP.Mock && cfg.PSP.MercadoPagoAccessToken == "" {
			missing = append(missing, "PSP.MercadoPagoAccessToken")
		}
	case "stripe":
		if !cfg.PSP.Mock && cfg.PSP.StripeAPIKey == "" {
			missing = append(missing, "PSP.StripeAPIKey")
		}
	default:
		missing = append(missing, "PSP.DefaultProvider")
	}
	if len(cfg.PSP.Currency) != 3 {
		missing = append(missing, "PSP.Currency")
	}

	switch cfg.Idempotency.Backend {
	case "memory":
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Idempotency.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.Events.OrderTopic != "" && cfg.Events.ProjectID == "" {
		missing = append(missing, "Events.ProjectID")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func lowerCSV(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToLower(v)
	}
	return values
}
