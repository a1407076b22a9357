package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/baraholka/api/internal/handlers"
	"github.com/baraholka/api/internal/payments"
	"github.com/baraholka/api/internal/platform/auth"
	"github.com/baraholka/api/internal/platform/config"
	"github.com/baraholka/api/internal/platform/jobs"
	"github.com/baraholka/api/internal/platform/observability"
	"github.com/baraholka/api/internal/platform/retry"
	platformstorage "github.com/baraholka/api/internal/platform/storage"
	"github.com/baraholka/api/internal/repositories"
	firestoreRepo "github.com/baraholka/api/internal/repositories/firestore"
	"github.com/baraholka/api/internal/services"
)

// Container wires configuration, repositories, services, and the HTTP router.
type Container struct {
	cfg    config.Config
	logger *zap.Logger

	registry      repositories.Registry
	pubsubClient  *pubsub.Client
	storageClient *cloudstorage.Client

	Ledger     services.LedgerService
	Listings   services.ListingService
	Promotions services.PromotionService
	Moderation services.ModerationService
	Assets     services.AssetService
	System     services.SystemService

	Router http.Handler
}

// New assembles the full application graph from configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := firestoreRepo.NewRegistry(cfg.Firestore)
	if err != nil {
		return nil, fmt.Errorf("di: repository registry: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("di: pubsub client: %w", err)
	}
	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("di: storage client: %w", err)
	}

	c := &Container{
		cfg:           cfg,
		logger:        logger,
		registry:      registry,
		pubsubClient:  pubsubClient,
		storageClient: storageClient,
	}
	if err := c.buildServices(); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	if err := c.buildRouter(); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) buildServices() error {
	eventLog := observability.EventLogger()

	notifier, err := jobs.NewPubSubNotificationGateway(c.pubsubClient.Topic(c.cfg.Topics.Notifications))
	if err != nil {
		return fmt.Errorf("di: notification gateway: %w", err)
	}
	queue, err := jobs.NewPubSubModerationQueue(c.pubsubClient.Topic(c.cfg.Topics.Moderation))
	if err != nil {
		return fmt.Errorf("di: moderation queue: %w", err)
	}
	dispatcher, err := jobs.NewPubSubJobDispatcher(c.pubsubClient.Topic(c.cfg.Topics.AssetOptimize))
	if err != nil {
		return fmt.Errorf("di: job dispatcher: %w", err)
	}

	gateway, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: c.cfg.PSP.StripeAPIKey,
		Logger: payments.StripeLogger(eventLog),
	})
	if err != nil {
		return fmt.Errorf("di: payment gateway: %w", err)
	}

	blobs, err := platformstorage.NewBlobStore(c.storageClient, c.cfg.Storage.AssetsBucket)
	if err != nil {
		return fmt.Errorf("di: blob store: %w", err)
	}

	ledger, err := services.NewLedgerService(services.LedgerServiceDeps{
		Users:        c.registry.Users(),
		Transactions: c.registry.Transactions(),
		Packages:     c.registry.Packages(),
		UnitOfWork:   c.registry,
		Payments:     gateway,
		PaidListings: c.cfg.Features.PaidListings,
		Logger:       eventLog,
	})
	if err != nil {
		return fmt.Errorf("di: ledger service: %w", err)
	}

	listings, err := services.NewListingService(services.ListingServiceDeps{
		Listings:      c.registry.Listings(),
		Favorites:     c.registry.Favorites(),
		ViewCounters:  c.registry.ViewCounters(),
		UnitOfWork:    c.registry,
		Ledger:        ledger,
		Queue:         queue,
		Notifications: notifier,
		ActiveWindow:  c.cfg.Listings.ActiveWindow,
		Logger:        eventLog,
	})
	if err != nil {
		return fmt.Errorf("di: listing service: %w", err)
	}

	promotions, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: c.registry.Promotions(),
		Listings:   c.registry.Listings(),
		UnitOfWork: c.registry,
		Ledger:     ledger,
		Payments:   gateway,
		Logger:     eventLog,
	})
	if err != nil {
		return fmt.Errorf("di: promotion service: %w", err)
	}

	writePolicy := retry.NewPolicy(retry.WithAttempts(c.cfg.Assets.WriteAttempts))
	assets, err := services.NewAssetService(services.AssetServiceDeps{
		Listings:          c.registry.Listings(),
		UnitOfWork:        c.registry,
		Blobs:             blobs,
		Jobs:              dispatcher,
		Retry:             &writePolicy,
		MaxImageSizeBytes: c.cfg.Assets.MaxImageSizeBytes,
		WriteTimeout:      c.cfg.Assets.WriteTimeout,
		BatchConcurrency:  c.cfg.Assets.BatchConcurrency,
		Logger:            eventLog,
	})
	if err != nil {
		return fmt.Errorf("di: asset service: %w", err)
	}

	moderation, err := services.NewModerationService(services.ModerationServiceDeps{
		Listings:      c.registry.Listings(),
		Decisions:     c.registry.Decisions(),
		Favorites:     c.registry.Favorites(),
		ViewCounters:  c.registry.ViewCounters(),
		Promotions:    c.registry.Promotions(),
		UnitOfWork:    c.registry,
		Ledger:        ledger,
		PromotionSvc:  promotions,
		Assets:        assets,
		Notifications: notifier,
		ActiveWindow:  c.cfg.Listings.ActiveWindow,
		Logger:        eventLog,
	})
	if err != nil {
		return fmt.Errorf("di: moderation service: %w", err)
	}

	system, err := services.NewSystemService(services.SystemServiceDeps{
		Health: c.registry.Health(),
	})
	if err != nil {
		return fmt.Errorf("di: system service: %w", err)
	}

	c.Ledger = ledger
	c.Listings = listings
	c.Promotions = promotions
	c.Moderation = moderation
	c.Assets = assets
	c.System = system
	return nil
}

func (c *Container) buildRouter() error {
	verifier, err := auth.NewInitDataVerifier(c.cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("di: init data verifier: %w", err)
	}

	listingHandlers := handlers.NewListingHandlers(c.Listings, c.Assets)
	meHandlers := handlers.NewMeHandlers(c.Ledger, c.Listings)
	promotionHandlers := handlers.NewPromotionHandlers(c.Promotions)
	webhookHandlers := handlers.NewWebhookHandlers(c.Moderation, c.Ledger, c.Promotions)
	internalHandlers := handlers.NewInternalHandlers(c.Listings, c.Assets)

	c.Router = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(c.logger),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(c.logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(c.System)),
		handlers.WithUserMiddlewares(auth.RequireInitData(verifier)),
		handlers.WithWebhookMiddlewares(auth.RequireWebhookSignature(c.cfg.Telegram.WebhookSecret)),
		handlers.WithInternalMiddlewares(auth.RequireWebhookSignature(c.cfg.Telegram.WebhookSecret)),
		handlers.WithListingRoutes(listingHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithPromotionRoutes(promotionHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	)
	return nil
}

// Close releases all backend clients.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.registry != nil {
		if err := c.registry.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.storageClient != nil {
		if err := c.storageClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
