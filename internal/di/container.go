package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/vastramart/api/internal/handlers"
	"github.com/vastramart/api/internal/payments"
	"github.com/vastramart/api/internal/platform/auth"
	"github.com/vastramart/api/internal/platform/config"
	pfirestore "github.com/vastramart/api/internal/platform/firestore"
	"github.com/vastramart/api/internal/platform/jobs"
	"github.com/vastramart/api/internal/platform/observability"
	"github.com/vastramart/api/internal/repositories"
	firestoreRepo "github.com/vastramart/api/internal/repositories/firestore"
	"github.com/vastramart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders      services.OrderService
	Payments    services.PaymentService
	AccessCodes services.AccessCodeService
}

// Container wires repositories, services, transport, and background
// infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories repositories.Registry
	Services     Services
	Router       chi.Router

	firestoreProvider *pfirestore.Provider
	pubsubClient      *pubsub.Client
	dispatcher        *services.AsyncNotificationDispatcher
}

// NewContainer constructs the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := pfirestore.NewProvider(cfg.Firestore)

	orderRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	accessCodeRepo, err := firestoreRepo.NewAccessCodeRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build access code repository: %w", err)
	}
	registry := repositories.Registry{
		Orders:      orderRepo,
		Counters:    counterRepo,
		AccessCodes: accessCodeRepo,
	}

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		return nil, errors.New("stripe api key is required for payment reconciliation")
	}
	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey: cfg.PSP.StripeAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe gateway: %w", err)
	}

	var pubsubClient *pubsub.Client
	var publisher services.NotificationPublisher
	if cfg.Notifications.ProjectID != "" && cfg.Notifications.Topic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		publisher, err = jobs.NewPubSubNotificationPublisher(pubsubClient.Topic(cfg.Notifications.Topic))
		if err != nil {
			return nil, fmt.Errorf("build notification publisher: %w", err)
		}
	} else {
		logger.Warn("notification topic not configured; order events will be dropped")
	}
	dispatcher := services.NewAsyncNotificationDispatcher(publisher, logger.Named("notifications"), cfg.Notifications.Buffer)

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		Counters:      counterRepo,
		Gateway:       gateway,
		Notifications: dispatcher,
		Currency:      cfg.Orders.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}
	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:  orderRepo,
		Gateway: gateway,
		Timeout: cfg.PSP.GatewayTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment service: %w", err)
	}
	accessCodeService, err := services.NewAccessCodeService(services.AccessCodeServiceDeps{
		Codes:      accessCodeRepo,
		DefaultTTL: cfg.AccessCodes.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("build access code service: %w", err)
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("build firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(verifier)

	health := handlers.NewHealthHandlers()
	health.AddCheck("firestore", func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	})

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(),
			observability.InjectLoggerMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithOrderMiddlewares(authenticator.RequireFirebaseAuth(auth.RoleUser, auth.RoleAdmin)),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(orderService, paymentService).Routes),
		handlers.WithAdminMiddlewares(authenticator.RequireFirebaseAuth(auth.RoleAdmin)),
		handlers.WithAdminRoutes(handlers.NewAccessCodeHandlers(accessCodeService).Routes),
	)

	return &Container{
		Config:       cfg,
		Logger:       logger,
		Repositories: registry,
		Services: Services{
			Orders:      orderService,
			Payments:    paymentService,
			AccessCodes: accessCodeService,
		},
		Router:            router,
		firestoreProvider: provider,
		pubsubClient:      pubsubClient,
		dispatcher:        dispatcher,
	}, nil
}

// Close drains the notification queue and releases backing clients. Safe to
// call once after the HTTP server has stopped.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.dispatcher != nil {
		c.dispatcher.Close()
	}
	var errs []error
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("firestore close: %w", err))
		}
	}
	return errors.Join(errs...)
}
