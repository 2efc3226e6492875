package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Mobile transports.
const (
	MobileTransportFCM  = "fcm"
	MobileTransportAPNS = "apns"
	MobileTransportNone = "none"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// TokenCacheTTL bounds how long fetched device targets stay cached.
	TokenCacheTTL time.Duration
	// PendingTTL bounds how long undelivered mailbox items are kept.
	PendingTTL time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTL             int
}

// APNSConfig holds the token-based APNs identity. The .p8 key is read from
// P8KeyPath at startup.
type APNSConfig struct {
	KeyID       string
	TeamID      string
	BundleID    string
	P8KeyPath   string
	Development bool
}

type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

type BridgeConfig struct {
	Standalone      bool
	ScheduleTimeout time.Duration
	TokenTimeout    time.Duration
	// IDSeed offsets the first allocated notification id.
	IDSeed int
}

type CapabilitiesConfig struct {
	Channels            bool
	ActiveNotifications bool
}

type PushTokenConfig struct {
	Endpoint   string
	AppID      string
	RatePerSec int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	EventsTopicID          string
	EventBufferSize        int
	IdentityServiceURL     string

	CorsConfig   middleware.CorsConfig
	Redis        RedisConfig
	Vapid        VapidConfig
	APNS         APNSConfig
	SQLite       SQLiteConfig
	Bridge       BridgeConfig
	Capabilities CapabilitiesConfig
	PushToken    PushTokenConfig

	MobileTransport string

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

func envDuration(key string, logger *slog.Logger, dest *time.Duration) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		logger.Warn("Ignoring invalid duration", "key", key, "value", val)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dest = d
}

func envBool(key string, logger *slog.Logger, dest *bool) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		logger.Warn("Ignoring invalid boolean", "key", key, "value", val)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dest = b
}

func envString(key string, logger *slog.Logger, dest *string) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dest = val
	}
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	envString("PROJECT_ID", logger, &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	envString("SUBSCRIPTION_DLQ_TOPIC_ID", logger, &cfg.SubscriptionDLQTopicID)
	envString("EVENTS_TOPIC_ID", logger, &cfg.EventsTopicID)
	envString("IDENTITY_SERVICE_URL", logger, &cfg.IdentityServiceURL)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	envBool("REDIS_ENABLED", logger, &cfg.Redis.Enabled)
	envDuration("REDIS_TOKEN_CACHE_TTL", logger, &cfg.Redis.TokenCacheTTL)
	envDuration("REDIS_PENDING_TTL", logger, &cfg.Redis.PendingTTL)

	// VAPID Overrides
	envString("VAPID_PUBLIC_KEY", logger, &cfg.Vapid.PublicKey)
	envString("VAPID_PRIVATE_KEY", logger, &cfg.Vapid.PrivateKey)
	envString("VAPID_SUB_EMAIL", logger, &cfg.Vapid.SubscriberEmail)

	// Mobile transport
	envString("MOBILE_TRANSPORT", logger, &cfg.MobileTransport)
	envString("APNS_KEY_ID", logger, &cfg.APNS.KeyID)
	envString("APNS_TEAM_ID", logger, &cfg.APNS.TeamID)
	envString("APNS_BUNDLE_ID", logger, &cfg.APNS.BundleID)
	envString("APNS_P8_KEY_PATH", logger, &cfg.APNS.P8KeyPath)
	envBool("APNS_DEVELOPMENT", logger, &cfg.APNS.Development)

	// Local storage
	envString("SQLITE_PATH", logger, &cfg.SQLite.Path)
	envDuration("SQLITE_BUSY_TIMEOUT", logger, &cfg.SQLite.BusyTimeout)

	// Bridge behaviour
	envBool("BRIDGE_STANDALONE", logger, &cfg.Bridge.Standalone)
	envDuration("BRIDGE_SCHEDULE_TIMEOUT", logger, &cfg.Bridge.ScheduleTimeout)
	envDuration("BRIDGE_TOKEN_TIMEOUT", logger, &cfg.Bridge.TokenTimeout)
	envString("PUSH_TOKEN_ENDPOINT", logger, &cfg.PushToken.Endpoint)
	envString("PUSH_TOKEN_APP_ID", logger, &cfg.PushToken.AppID)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	switch cfg.MobileTransport {
	case "":
		cfg.MobileTransport = MobileTransportFCM
	case MobileTransportFCM, MobileTransportNone:
	case MobileTransportAPNS:
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8KeyPath == "" {
			return nil, fmt.Errorf("apns transport requires key_id, team_id, bundle_id and p8_key_path")
		}
	default:
		return nil, fmt.Errorf("unknown mobile_transport %q (want fcm, apns or none)", cfg.MobileTransport)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 100
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = "http://localhost:3000"
	}
	if cfg.Redis.TokenCacheTTL <= 0 {
		cfg.Redis.TokenCacheTTL = 24 * time.Hour
	}
	if cfg.Redis.PendingTTL <= 0 {
		cfg.Redis.PendingTTL = 7 * 24 * time.Hour
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/bridge.db"
	}
	if cfg.SQLite.BusyTimeout <= 0 {
		cfg.SQLite.BusyTimeout = 5 * time.Second
	}
	if cfg.Bridge.ScheduleTimeout <= 0 {
		cfg.Bridge.ScheduleTimeout = 10 * time.Second
	}
	if cfg.Bridge.TokenTimeout <= 0 {
		cfg.Bridge.TokenTimeout = 10 * time.Second
	}
	if cfg.PushToken.RatePerSec <= 0 {
		cfg.PushToken.RatePerSec = 5
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
