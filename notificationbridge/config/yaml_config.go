package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	Enabled       bool   `yaml:"enabled"`
	TokenCacheTTL string `yaml:"token_cache_ttl"`
	PendingTTL    string `yaml:"pending_ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTL             int    `yaml:"ttl"`
}

type YamlAPNSConfig struct {
	KeyID       string `yaml:"key_id"`
	TeamID      string `yaml:"team_id"`
	BundleID    string `yaml:"bundle_id"`
	P8KeyPath   string `yaml:"p8_key_path"`
	Development bool   `yaml:"development"`
}

type YamlSQLiteConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

type YamlBridgeConfig struct {
	Standalone      bool   `yaml:"standalone"`
	ScheduleTimeout string `yaml:"schedule_timeout"`
	TokenTimeout    string `yaml:"token_timeout"`
	IDSeed          int    `yaml:"id_seed"`
}

type YamlCapabilitiesConfig struct {
	Channels            bool `yaml:"channels"`
	ActiveNotifications bool `yaml:"active_notifications"`
}

type YamlPushTokenConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AppID      string `yaml:"app_id"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string                 `yaml:"project_id"`
	ListenAddr             string                 `yaml:"listen_addr"`
	TopicID                string                 `yaml:"topic_id"`
	SubscriptionID         string                 `yaml:"subscription_id"`
	SubscriptionDLQTopicID string                 `yaml:"subscription_dlq_topic_id"`
	EventsTopicID          string                 `yaml:"events_topic_id"`
	EventBufferSize        int                    `yaml:"event_buffer_size"`
	IdentityServiceURL     string                 `yaml:"identity_service_url"`
	MobileTransport        string                 `yaml:"mobile_transport"`
	CorsConfig             YamlCorsConfig         `yaml:"cors"`
	RedisConfig            YamlRedisConfig        `yaml:"redis"`
	VapidConfig            YamlVapidConfig        `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig         `yaml:"apns"`
	SQLiteConfig           YamlSQLiteConfig       `yaml:"sqlite"`
	BridgeConfig           YamlBridgeConfig       `yaml:"bridge"`
	CapabilitiesConfig     YamlCapabilitiesConfig `yaml:"capabilities"`
	PushTokenConfig        YamlPushTokenConfig    `yaml:"push_token"`
	NumPipelineWorkers     int                    `yaml:"num_pipeline_workers"`
}

type durationField struct {
	field string
	raw   string
	dest  *time.Duration
}

// parseDuration treats an empty value as unset.
func parseDuration(field, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, val, err)
	}
	return d, nil
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		EventsTopicID:      baseCfg.EventsTopicID,
		EventBufferSize:    baseCfg.EventBufferSize,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		MobileTransport:    baseCfg.MobileTransport,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			TTL:             baseCfg.VapidConfig.TTL,
		},
		APNS: APNSConfig{
			KeyID:       baseCfg.APNSConfig.KeyID,
			TeamID:      baseCfg.APNSConfig.TeamID,
			BundleID:    baseCfg.APNSConfig.BundleID,
			P8KeyPath:   baseCfg.APNSConfig.P8KeyPath,
			Development: baseCfg.APNSConfig.Development,
		},
		SQLite: SQLiteConfig{Path: baseCfg.SQLiteConfig.Path},
		Bridge: BridgeConfig{
			Standalone: baseCfg.BridgeConfig.Standalone,
			IDSeed:     baseCfg.BridgeConfig.IDSeed,
		},
		Capabilities: CapabilitiesConfig{
			Channels:            baseCfg.CapabilitiesConfig.Channels,
			ActiveNotifications: baseCfg.CapabilitiesConfig.ActiveNotifications,
		},
		PushToken: PushTokenConfig{
			Endpoint:   baseCfg.PushTokenConfig.Endpoint,
			AppID:      baseCfg.PushTokenConfig.AppID,
			RatePerSec: baseCfg.PushTokenConfig.RatePerSec,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	durations := []durationField{
		{"redis.token_cache_ttl", baseCfg.RedisConfig.TokenCacheTTL, &cfg.Redis.TokenCacheTTL},
		{"redis.pending_ttl", baseCfg.RedisConfig.PendingTTL, &cfg.Redis.PendingTTL},
		{"sqlite.busy_timeout", baseCfg.SQLiteConfig.BusyTimeout, &cfg.SQLite.BusyTimeout},
		{"bridge.schedule_timeout", baseCfg.BridgeConfig.ScheduleTimeout, &cfg.Bridge.ScheduleTimeout},
		{"bridge.token_timeout", baseCfg.BridgeConfig.TokenTimeout, &cfg.Bridge.TokenTimeout},
	}
	for _, d := range durations {
		v, err := parseDuration(d.field, d.raw)
		if err != nil {
			return nil, err
		}
		*d.dest = v
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"mobile_transport", cfg.MobileTransport,
	)

	return cfg, nil
}
