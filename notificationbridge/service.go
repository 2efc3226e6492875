// Package notificationbridge assembles the bridge host, its shared services
// and the HTTP and Pub/Sub surfaces into a runnable service.
package notificationbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-bridge/internal/api"
	"github.com/tinywideclouds/go-notification-bridge/internal/bridge"
	"github.com/tinywideclouds/go-notification-bridge/internal/categories"
	"github.com/tinywideclouds/go-notification-bridge/internal/device"
	"github.com/tinywideclouds/go-notification-bridge/internal/events"
	"github.com/tinywideclouds/go-notification-bridge/internal/ids"
	"github.com/tinywideclouds/go-notification-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-notification-bridge/internal/postoffice"
	"github.com/tinywideclouds/go-notification-bridge/internal/presence"
	"github.com/tinywideclouds/go-notification-bridge/internal/presenter"
	"github.com/tinywideclouds/go-notification-bridge/internal/pushtoken"
	"github.com/tinywideclouds/go-notification-bridge/internal/scheduler"
	"github.com/tinywideclouds/go-notification-bridge/notificationbridge/config"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// Dependencies are the infrastructure-backed collaborators built by main.
// Only TokenStore and AuthMiddleware are required; the rest fall back to
// in-memory implementations or are left out.
type Dependencies struct {
	// Consumer feeds the inbound remote notification pipeline. Nil disables it.
	Consumer         messagepipeline.MessageConsumer
	TokenStore       dispatch.TokenStore
	MobileDispatcher dispatch.Dispatcher
	WebDispatcher    dispatch.WebDispatcher
	ScheduleStore    scheduler.Store
	Preferences      pushtoken.Preferences
	PendingStore     postoffice.PendingStore
	LegacyChannels   bridge.LegacyChannelStore
	// Events receives every mailbox event in addition to the poll buffer.
	Events         notifications.EventEmitter
	HTTPClient     *http.Client
	AuthMiddleware func(http.Handler) http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.RemoteNotification]
	schedules       *scheduler.Manager
	host            *bridge.Host
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.TokenStore == nil {
		return nil, errors.New("token store is required")
	}
	if deps.AuthMiddleware == nil {
		return nil, errors.New("auth middleware is required")
	}
	if deps.ScheduleStore == nil {
		deps.ScheduleStore = scheduler.NewMemoryStore()
	}
	if deps.Preferences == nil {
		deps.Preferences = pushtoken.NewMemoryPreferences()
	}
	if deps.LegacyChannels == nil {
		deps.LegacyChannels = bridge.NewMemoryLegacyChannels()
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Shared services
	deviceOpts := []device.Option{device.WithTokenStore(deps.TokenStore)}
	if deps.MobileDispatcher != nil {
		deviceOpts = append(deviceOpts, device.WithMobileDispatcher(deps.MobileDispatcher))
	}
	if deps.WebDispatcher != nil {
		deviceOpts = append(deviceOpts, device.WithWebDispatcher(deps.WebDispatcher))
	}
	service := device.NewManager(notifications.Capabilities{
		Channels:            cfg.Capabilities.Channels,
		ActiveNotifications: cfg.Capabilities.ActiveNotifications,
	}, logger, deviceOpts...)

	actions := categories.NewActionCenter()
	tracker := presence.NewTracker(notifications.ImportanceBackground)
	office := postoffice.New(deps.PendingStore, logger)
	registry := ids.NewRegistry(cfg.Bridge.IDSeed)

	smart := presenter.NewSmart(tracker, office, presenter.NewSystem(service, actions, logger), registry, logger)
	schedules := scheduler.NewManager(deps.ScheduleStore, registry, smart, logger)

	buffer := events.NewBuffer(cfg.EventBufferSize)
	emitters := events.Multi{buffer, events.NewLogEmitter(logger)}
	if deps.Events != nil {
		emitters = append(emitters, deps.Events)
	}

	installationID, err := pushtoken.EnsureInstallationID(context.Background(), deps.Preferences)
	if err != nil {
		return nil, err
	}
	logger.Debug("Installation id ready", "installation_id", installationID)

	deviceTokens := pushtoken.NewDeviceProvider(deps.TokenStore)
	experienceTokens := pushtoken.NewExperienceProvider(pushtoken.ExperienceProviderConfig{
		Endpoint:   cfg.PushToken.Endpoint,
		AppID:      cfg.PushToken.AppID,
		RatePerSec: cfg.PushToken.RatePerSec,
	}, deps.Preferences, deviceTokens, deps.HTTPClient, logger)

	host := bridge.NewHost(bridge.Config{
		Standalone:      cfg.Bridge.Standalone,
		ScheduleTimeout: cfg.Bridge.ScheduleTimeout,
		TokenTimeout:    cfg.Bridge.TokenTimeout,
	}, bridge.Deps{
		Service:          service,
		Presenter:        smart,
		Scheduler:        schedules,
		PostOffice:       office,
		Categories:       actions,
		IDs:              registry,
		DeviceTokens:     deviceTokens,
		ExperienceTokens: experienceTokens,
		LegacyChannels:   deps.LegacyChannels,
		Events:           emitters,
		Logger:           logger,
	})

	// 3. Pipeline
	var streamingService *messagepipeline.StreamingService[pipeline.RemoteNotification]
	if deps.Consumer != nil {
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.RemoteNotificationTransformer,
			pipeline.NewProcessor(smart, registry, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	} else {
		logger.Warn("No consumer configured; remote notifications are disabled")
	}

	// 4. API
	bridgeAPI := api.NewBridgeAPI(host, tracker, office, buffer, logger)
	tokenAPI := api.NewTokenAPI(deps.TokenStore, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	protected := func(h http.Handler) http.Handler {
		return corsMiddleware(deps.AuthMiddleware(h))
	}

	bridgeAPI.Routes(mux, protected)
	tokenAPI.Routes(mux, protected)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		schedules:       schedules,
		host:            host,
		logger:          logger,
	}, nil
}

// Start restores persisted schedules, starts the pipeline and then blocks
// serving HTTP.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Scheduler starting...")
	if err := w.schedules.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	w.host.Shutdown()
	w.schedules.Stop()
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
