package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-bridge/internal/events"
	"github.com/tinywideclouds/go-notification-bridge/internal/platform/apns"
	"github.com/tinywideclouds/go-notification-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-notification-bridge/internal/platform/web"
	"github.com/tinywideclouds/go-notification-bridge/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-notification-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-bridge/internal/storage/sqlite"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"

	"github.com/tinywideclouds/go-notification-bridge/notificationbridge"
	"github.com/tinywideclouds/go-notification-bridge/notificationbridge/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-bridge")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	local, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLite.Path, BusyTimeout: cfg.SQLite.BusyTimeout})
	if err != nil {
		logger.Error("SQLite store failed", "path", cfg.SQLite.Path, "err", err)
		os.Exit(1)
	}
	defer local.Close()

	deps := notificationbridge.Dependencies{
		ScheduleStore:  local,
		Preferences:    local,
		LegacyChannels: fsStore.NewLegacyChannelStore(fsClient),
	}

	// --- Token Store (Decorated) ---
	var tokenStore dispatch.TokenStore = fsStore.NewFirestoreStore(fsClient)
	logger.Info("TokenStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, cfg.Redis.TokenCacheTTL)
		deps.PendingStore = cache.NewPendingDeliveries(redisClient, cfg.Redis.PendingTTL, logger)
		logger.Info("TokenStore upgraded", "type", "redis_cached_firestore")
	}
	deps.TokenStore = tokenStore

	// --- Auth ---
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", cfg.IdentityServiceURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}
	deps.AuthMiddleware = authMiddleware

	// --- Dispatchers ---
	mobile, err := newMobileDispatcher(ctx, cfg, logger)
	if err != nil {
		logger.Error("Mobile dispatcher failed", "transport", cfg.MobileTransport, "err", err)
		os.Exit(1)
	}
	deps.MobileDispatcher = mobile

	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push disabled.")
	} else {
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
		deps.WebDispatcher = web.NewDispatcher(web.Config{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
			TTL:             cfg.Vapid.TTL,
		}, logger)
	}

	// --- Events ---
	if cfg.EventsTopicID != "" {
		emitter := events.NewPubsubEmitter(psClient, cfg.EventsTopicID, logger)
		defer emitter.Stop()
		deps.Events = emitter
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer failed", "err", err)
		os.Exit(1)
	}
	deps.Consumer = consumer

	service, err := notificationbridge.New(cfg, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...", "mobile_transport", cfg.MobileTransport, "standalone", cfg.Bridge.Standalone)
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newMobileDispatcher returns nil for the "none" transport.
func newMobileDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Dispatcher, error) {
	switch cfg.MobileTransport {
	case config.MobileTransportAPNS:
		key, err := os.ReadFile(cfg.APNS.P8KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read APNs key: %w", err)
		}
		return apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: string(key),
			Development:  cfg.APNS.Development,
		}, logger)
	case config.MobileTransportFCM:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		return fcm.NewDispatcher(fcmMessaging, logger), nil
	default:
		logger.Warn("Mobile push disabled")
		return nil, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
