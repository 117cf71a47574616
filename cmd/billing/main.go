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

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/medicore-clinic/billing/internal/di"
	"github.com/medicore-clinic/billing/internal/handlers"
	"github.com/medicore-clinic/billing/internal/platform/auth"
	"github.com/medicore-clinic/billing/internal/platform/cache"
	"github.com/medicore-clinic/billing/internal/platform/config"
	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
	"github.com/medicore-clinic/billing/internal/platform/idempotency"
	"github.com/medicore-clinic/billing/internal/platform/jobs"
	"github.com/medicore-clinic/billing/internal/platform/metrics"
	"github.com/medicore-clinic/billing/internal/platform/observability"
	"github.com/medicore-clinic/billing/internal/platform/requestctx"
	"github.com/medicore-clinic/billing/internal/platform/secrets"
	"github.com/medicore-clinic/billing/internal/repositories"
	firestoreRepo "github.com/medicore-clinic/billing/internal/repositories/firestore"
	"github.com/medicore-clinic/billing/internal/repositories/memory"
	"github.com/medicore-clinic/billing/internal/services"
)

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

	logger := baseLogger.Named("billing")
	ctx = requestctx.WithLogger(ctx, logger)

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
	promMetrics := metrics.New()
	var checks []repositories.DependencyCheck

	var (
		registry          repositories.Registry
		firestoreClient   *firestore.Client
		idempotencyStore  idempotency.Store
		firestoreProvider *pfirestore.Provider
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		store, err := newMemoryStore(cfg.Storage.MemorySeedFile)
		if err != nil {
			logger.Fatal("failed to initialise memory store", zap.Error(err))
		}
		registry = store
		idempotencyStore = idempotency.NewMemoryStore()
		logger.Warn("billing is running on the in-memory store; data is lost on restart")
	default:
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		firestoreClient, err = firestoreProvider.Client(ctx)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		fsRegistry, err := firestoreRepo.NewRegistry(firestoreProvider,
			pfirestore.WithTxAttempts(cfg.Billing.TxAttempts),
			pfirestore.WithTxTimeout(cfg.Billing.TxTimeout),
		)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		registry = fsRegistry
		idempotencyStore = idempotency.NewFirestoreStore(firestoreClient)
		checks = append(checks, firestoreCheck(firestoreClient))
	}

	var redisClient *redis.Client
	var priceCache *cache.PriceCache
	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		priceCache = cache.NewPriceCache(redisClient, cfg.Cache.PriceTTL,
			cache.WithLogger(logger.Named("cache")),
			cache.WithRecorder(promMetrics),
		)
		if firestoreClient == nil {
			idempotencyStore = idempotency.NewRedisStore(redisClient)
		}
		checks = append(checks, redisCheck(redisClient))
	}

	publisher, closePublisher, err := newOrderPublisher(ctx, cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer closePublisher()

	checks = append(checks, secretManagerCheck(fetcher))
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Runtime{
		Events:     jobs.NewRecordingPublisher(publisher, promMetrics),
		Metrics:    promMetrics,
		PriceCache: priceCache,
		Health:     healthRepo,
		Logger:     logger,
		Build:      buildInfo,
	})
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

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, promMetrics)

	billingHandlers := handlers.NewBillingOrderHandlers(container.Services.Billing)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		promMetrics.Middleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(promMetrics.Handler()),
		handlers.WithBillingRoutes(billingHandlers.Routes),
		handlers.WithBillingMiddlewares(
			authenticator.RequireRoles(auth.RoleStaff, auth.RoleDoctor, auth.RoleAdmin),
			idempotencyMiddleware,
		),
		handlers.WithInternalRoutes(billingHandlers.InternalRoutes),
		handlers.WithInternalMiddlewares(oidcMiddleware, idempotencyMiddleware),
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
		serverLogger.Info("billing api listening", zap.String("storage", cfg.Storage.Driver), zap.String("events", cfg.Events.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	cleanupCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newMemoryStore(seedFile string) (*memory.Store, error) {
	store := memory.NewStore()
	seedFile = strings.TrimSpace(seedFile)
	if seedFile == "" {
		return store, nil
	}
	f, err := os.Open(seedFile)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	if err := store.Load(f); err != nil {
		return nil, err
	}
	return store, nil
}

func newOrderPublisher(ctx context.Context, cfg config.EventsConfig) (services.OrderEventPublisher, func(), error) {
	switch cfg.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubOrderPublisher(client.Topic(cfg.Topic))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func() {
			_ = publisher.Close()
			_ = client.Close()
		}, nil
	case config.EventsDriverAMQP:
		publisher, err := jobs.DialAMQPOrderPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return publisher, func() { _ = publisher.Close() }, nil
	default:
		return jobs.NopPublisher{}, func() {}, nil
	}
}

func firestoreCheck(client *firestore.Client) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func redisCheck(client *redis.Client) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "redis",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
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
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.VerificationRecorder) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(keys, auth.WithOIDCLogger(logger), auth.WithOIDCRecorder(recorder))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["BILLING_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["BILLING_BUILD_COMMIT_SHA"])
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

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("BILLING_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("BILLING_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("BILLING_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("BILLING_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("BILLING_SECRET_PROJECT_IDS")); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(lowerKeys(projects)))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("BILLING_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("BILLING_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve. The audit salt is always
// required outside local runs; the others only when their feature is enabled.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if label := strings.ToLower(strings.TrimSpace(env["BILLING_SECURITY_ENVIRONMENT"])); label != "" && label != "local" {
		required = append(required, "Security.AuditHashSalt")
	}
	if strings.EqualFold(strings.TrimSpace(env["BILLING_EVENTS_DRIVER"]), config.EventsDriverAMQP) {
		required = append(required, "Events.AMQPURL")
	}
	if strings.TrimSpace(env["BILLING_CACHE_REDIS_PASSWORD"]) != "" {
		required = append(required, "Cache.RedisPassword")
	}
	return required
}

func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func lowerKeys(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[strings.ToLower(k)] = v
	}
	return out
}
