package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pulsera/api/internal/di"
	"github.com/pulsera/api/internal/handlers"
	"github.com/pulsera/api/internal/platform/auth"
	"github.com/pulsera/api/internal/platform/config"
	pfirestore "github.com/pulsera/api/internal/platform/firestore"
	"github.com/pulsera/api/internal/platform/idempotency"
	"github.com/pulsera/api/internal/platform/jobs"
	"github.com/pulsera/api/internal/platform/observability"
	"github.com/pulsera/api/internal/platform/postgres"
	"github.com/pulsera/api/internal/platform/secrets"
	"github.com/pulsera/api/internal/platform/storage"
	pgrepo "github.com/pulsera/api/internal/repositories/postgres"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)
	logEvent := observability.EventLogger(logger)

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

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db, logger.Named("migrate")); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
	}
	registry, err := pgrepo.NewRegistry(db)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{di.WithLogger(logger)}
	var topic *pubsub.Topic
	if topicName := strings.TrimSpace(cfg.Events.OrderTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic = pubsubClient.Topic(topicName)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithEventPublisher(publisher))
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	verifier, err := newTokenVerifier(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise session verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier,
		auth.WithProviderName(cfg.Auth.Provider),
		auth.WithAdminPolicy(auth.NewAdminPolicy(cfg.Auth.AdminRole, cfg.Auth.AdminEmails)),
		auth.WithVerificationTimeout(cfg.Auth.VerifyTimeout),
	)

	backend, closeBackend, err := newStorageBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise photo storage", zap.Error(err))
	}
	defer closeBackend()
	photoStore, err := storage.NewPhotoStore(backend,
		storage.WithMaxBytes(cfg.Storage.MaxUploadBytes),
		storage.WithUploadTimeout(cfg.Storage.UploadTimeout),
	)
	if err != nil {
		logger.Fatal("failed to initialise photo store", zap.Error(err))
	}

	idempotencyStore, closeIdempotency, err := newIdempotencyStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	defer closeIdempotency()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotency.LogFunc(logEvent)),
	)

	janitorCtx, janitorCancel := context.WithCancel(ctx)
	var janitorWG sync.WaitGroup
	janitorWG.Add(1)
	go func() {
		defer janitorWG.Done()
		idempotency.RunJanitor(janitorCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, idempotency.LogFunc(logEvent))
	}()

	if strings.TrimSpace(cfg.PSP.MercadoPagoWebhookSecret) == "" {
		logger.Warn("mercadopago webhook secret not configured; webhook deliveries will be rejected")
	}
	signatureOpts := []auth.SignatureOption{}
	if cfg.PSP.MercadoPagoSignatureMaxAge > 0 {
		signatureOpts = append(signatureOpts, auth.WithSignatureTolerance(cfg.PSP.MercadoPagoSignatureMaxAge))
	}
	signatureVerifier := auth.NewSignatureVerifier(cfg.PSP.MercadoPagoWebhookSecret, signatureOpts...)

	webhookOpts := []handlers.WebhookOption{handlers.WithWebhookLogger(logEvent)}
	if container.Stripe != nil {
		webhookOpts = append(webhookOpts, handlers.WithStripeWebhooks(container.Stripe))
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithReadinessCheck("postgres", registry.Ping),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Reconciliation, signatureVerifier, webhookOpts...)
	uploadHandlers := handlers.NewUploadHandlers(photoStore)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithCheckoutMiddlewares(
			handlers.RateLimit(cfg.RateLimits.CheckoutPerMinute, time.Minute, nil),
			idempotencyMiddleware,
		),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderMiddlewares(handlers.RateLimit(cfg.RateLimits.OrderLookupPerMinute, time.Minute, nil)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithUploadMiddlewares(handlers.RateLimit(cfg.RateLimits.CheckoutPerMinute, time.Minute, nil)),
		handlers.WithUploadRoutes(uploadHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("pulsera api listening",
			zap.Strings("payment_providers", container.Payments.Providers()),
			zap.String("environment", cfg.Security.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	janitorCancel()
	janitorWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if topic != nil {
		topic.Stop()
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Auth.FirebaseProjectID); id != "" {
		return id
	}
	if id := strings.TrimSpace(cfg.Events.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newTokenVerifier(ctx context.Context, cfg config.Config) (auth.TokenVerifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Auth.Provider)) {
	case "firebase":
		return auth.NewFirebaseVerifier(ctx, cfg.Auth)
	case "supabase", "":
		return auth.NewSupabaseVerifier(cfg.Supabase)
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.Auth.Provider)
	}
}

func newStorageBackend(ctx context.Context, cfg config.Config) (storage.Backend, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Provider)) {
	case "gcs":
		var opts []option.ClientOption
		if path := strings.TrimSpace(cfg.Auth.FirebaseCredentialsFile); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
		client, err := cloudstorage.NewClient(ctx, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("storage client: %w", err)
		}
		backend, err := storage.NewGCSBackend(client, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return backend, func() { _ = client.Close() }, nil
	case "supabase", "":
		backend, err := storage.NewSupabaseBackend(cfg.Supabase.URL, cfg.Supabase.APIKey, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, noop, err
		}
		return backend, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage provider %q", cfg.Storage.Provider)
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.Config) (idempotency.Store, func(), error) {
	if strings.ToLower(strings.TrimSpace(cfg.Idempotency.Backend)) != "firestore" {
		return idempotency.NewMemoryStore(), func() {}, nil
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.Auth.FirebaseCredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := pfirestore.Open(ctx, cfg.Firestore, opts...)
	if err != nil {
		return nil, func() {}, err
	}
	return idempotency.NewFirestoreStore(client), func() { _ = client.Close() }, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve before the server starts.
// Provider credentials are only required when the mock gateway is disabled.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Database.URL"}
	if strings.EqualFold(strings.TrimSpace(env["API_PSP_MOCK"]), "true") {
		return required
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey")
	}
	if strings.TrimSpace(env["API_PSP_MERCADOPAGO_ACCESS_TOKEN"]) != "" || len(required) == 1 {
		required = append(required, "PSP.MercadoPagoAccessToken")
	}
	return required
}
