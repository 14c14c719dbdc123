package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/threadcart/api/internal/di"
	"github.com/threadcart/api/internal/handlers"
	"github.com/threadcart/api/internal/payments"
	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/platform/config"
	pfirestore "github.com/threadcart/api/internal/platform/firestore"
	"github.com/threadcart/api/internal/platform/idempotency"
	"github.com/threadcart/api/internal/platform/jobs"
	"github.com/threadcart/api/internal/platform/mail"
	"github.com/threadcart/api/internal/platform/observability"
	"github.com/threadcart/api/internal/platform/secrets"
	platformstorage "github.com/threadcart/api/internal/platform/storage"
	firestoreRepo "github.com/threadcart/api/internal/repositories/firestore"
	"github.com/threadcart/api/internal/services"
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

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to build repository registry", zap.Error(err))
	}

	deps := di.Deps{
		Registry: registry,
		Logger:   zapServiceLogger(logger),
		Build: services.BuildInfo{
			Version:     envWithDefault("APP_VERSION", "dev"),
			Environment: envWithDefault("APP_ENV", "development"),
			StartedAt:   startedAt,
		},
	}

	tokenManager, err := auth.NewTokenManager(cfg.Auth.JWTSigningKey, auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		logger.Fatal("failed to build token manager", zap.Error(err))
	}
	deps.Tokens = tokenManager

	if cfg.Payments.RazorpayKeyID != "" {
		provider, err := payments.NewRazorpayProvider(cfg.Payments.RazorpayKeyID, cfg.Payments.RazorpayKeySecret)
		if err != nil {
			logger.Fatal("failed to build razorpay provider", zap.Error(err))
		}
		gateway, err := payments.NewManager(map[string]payments.Provider{
			payments.ProviderRazorpay: provider,
		})
		if err != nil {
			logger.Fatal("failed to build payment manager", zap.Error(err))
		}
		deps.Gateway = gateway
	} else {
		logger.Warn("razorpay credentials not configured, checkout disabled")
	}

	if cfg.Events.ProjectID != "" && cfg.Events.OrderEventTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubOrderEventPublisher(pubsubClient.Topic(cfg.Events.OrderEventTopic))
		if err != nil {
			logger.Fatal("failed to build order event publisher", zap.Error(err))
		}
		deps.Events = publisher
	} else {
		logger.Warn("order event topic not configured, events disabled")
	}

	if cfg.Mail.Host != "" {
		mailer, err := mail.NewSMTPSender(mail.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.FromAddress,
		})
		if err != nil {
			logger.Fatal("failed to build smtp sender", zap.Error(err))
		}
		deps.Mailer = mailer
	} else {
		logger.Warn("smtp host not configured, reset mail disabled")
	}

	if cfg.Storage.PhotosBucket != "" {
		gcsClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		remover, err := platformstorage.NewRemover(gcsClient)
		if err != nil {
			logger.Fatal("failed to build object remover", zap.Error(err))
		}
		deps.ObjectRemover = remover

		if cfg.Storage.SignerKeyFile != "" {
			signer, err := platformstorage.NewServiceAccountSignerFromFile(cfg.Storage.SignerKeyFile)
			if err != nil {
				logger.Fatal("failed to load storage signer key", zap.Error(err))
			}
			storageClient, err := platformstorage.NewClient(signer)
			if err != nil {
				logger.Fatal("failed to build storage signing client", zap.Error(err))
			}
			deps.PhotoSigner = storageClient
		} else {
			logger.Warn("storage signer key not configured, photo uploads disabled")
		}
	} else {
		logger.Warn("photos bucket not configured, photo management disabled")
	}

	container, err := di.NewContainer(ctx, cfg, deps)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authenticator := auth.NewAuthenticator(tokenManager)

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMW := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger)),
	)

	authHandlers := handlers.NewAuthHandlers(authenticator, container.Services.Users,
		handlers.WithResetBaseURL(cfg.Mail.ResetURL),
	)
	catalogHandlers := handlers.NewCatalogHandlers(authenticator, container.Services.Catalog)
	couponHandlers := handlers.NewCouponHandlers(authenticator, container.Services.Coupons)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders, container.Services.Checkout, container.Services.Pricing)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders, container.Services.Checkout)
	adminUserHandlers := handlers.NewAdminUserHandlers(authenticator, container.Services.Users)
	healthHandlers := handlers.NewHealthHandlers(container.Services.System)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithProductRoutes(catalogHandlers.ProductRoutes),
		handlers.WithCollectionRoutes(catalogHandlers.CollectionRoutes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMW),
		handlers.WithAdminRoutes(handlers.CombineRegistrars(adminHandlers.Routes, adminUserHandlers.Routes)),
	}

	if container.Services.Checkout != nil && cfg.Payments.WebhookSecret != "" {
		validator := auth.NewWebhookValidator(
			auth.SecretProviderFunc(func(context.Context, string) (string, error) {
				return cfg.Payments.WebhookSecret, nil
			}),
			auth.NewInMemoryNonceStore(),
		)
		webhookHandlers := handlers.NewWebhookHandlers(validator, container.Services.Checkout)
		routerOpts = append(routerOpts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	}

	router := handlers.NewRouter(routerOpts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if container.Services.Checkout != nil && cfg.Orders.ReconcileInterval > 0 {
		go runReconcileLoop(runCtx, logger, container.Services.Checkout, cfg.Orders)
	}
	if cfg.Idempotency.CleanupInterval > 0 {
		go runIdempotencyCleanup(runCtx, logger, idempotencyStore, cfg.Idempotency)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("threadcart api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
}

// runReconcileLoop periodically settles pending orders whose gateway intents
// were abandoned before the verify callback arrived.
func runReconcileLoop(ctx context.Context, logger *zap.Logger, checkout services.CheckoutService, cfg config.OrdersConfig) {
	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := checkout.ReconcilePending(ctx, services.ReconcileOptions{
				OlderThan: cfg.ReconcileAfter,
				Limit:     cfg.ReconcileBatchSize,
			})
			if err != nil {
				logger.Warn("reconcile sweep failed", zap.Error(err))
				continue
			}
			if report.Scanned > 0 {
				logger.Info("reconcile sweep complete",
					zap.Int("scanned", report.Scanned),
					zap.Int("paid", report.Paid),
					zap.Int("failed", report.Failed),
					zap.Int("skipped", report.Skipped),
				)
			}
		}
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), cfg.CleanupBatchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency records expired", zap.Int("removed", removed))
			}
		}
	}
}

// zapServiceLogger adapts the zap logger to the loose logging hook the
// service layer accepts.
func zapServiceLogger(fallback *zap.Logger) func(context.Context, string, map[string]any) {
	return func(ctx context.Context, msg string, fields map[string]any) {
		logger := observability.FromContext(ctx)
		if logger == nil {
			logger = fallback
		}
		if logger == nil {
			return
		}
		if len(fields) == 0 {
			logger.Info(msg)
			return
		}
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		zapFields := make([]zap.Field, 0, len(keys))
		for _, key := range keys {
			zapFields = append(zapFields, zap.Any(key, fields[key]))
		}
		logger.Info(msg, zapFields...)
	}
}

func envWithDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
