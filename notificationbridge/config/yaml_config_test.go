package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notification-bridge/notificationbridge/config"
	"gopkg.in/yaml.v3"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:              "yaml-project",
			ListenAddr:             ":9000",
			TopicID:                "yaml-topic",
			SubscriptionID:         "yaml-subscription",
			SubscriptionDLQTopicID: "yaml-dlq",
			EventsTopicID:          "yaml-events",
			MobileTransport:        "apns",
			NumPipelineWorkers:     5,
			CorsConfig: config.YamlCorsConfig{
				AllowedOrigins: []string{"http://yaml.com"},
				Role:           "editor",
			},
			VapidConfig: config.YamlVapidConfig{
				PublicKey:       "yaml-public-key",
				PrivateKey:      "yaml-private-key",
				SubscriberEmail: "yaml@test.com",
			},
			APNSConfig: config.YamlAPNSConfig{
				KeyID:       "KEY123",
				TeamID:      "TEAM456",
				BundleID:    "com.example.app",
				P8KeyPath:   "/secrets/apns.p8",
				Development: true,
			},
			SQLiteConfig: config.YamlSQLiteConfig{Path: "bridge.db", BusyTimeout: "2s"},
			BridgeConfig: config.YamlBridgeConfig{
				Standalone:      true,
				ScheduleTimeout: "5s",
				TokenTimeout:    "15s",
				IDSeed:          1000,
			},
			CapabilitiesConfig: config.YamlCapabilitiesConfig{Channels: true, ActiveNotifications: true},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, "yaml-events", cfg.EventsTopicID)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)

		// 2. CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 3. Push transports
		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml-private-key", cfg.Vapid.PrivateKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)
		assert.Equal(t, config.MobileTransportAPNS, cfg.MobileTransport)
		assert.Equal(t, "com.example.app", cfg.APNS.BundleID)
		assert.True(t, cfg.APNS.Development)

		// 4. Bridge
		assert.Equal(t, 2*time.Second, cfg.SQLite.BusyTimeout)
		assert.True(t, cfg.Bridge.Standalone)
		assert.Equal(t, 5*time.Second, cfg.Bridge.ScheduleTimeout)
		assert.Equal(t, 15*time.Second, cfg.Bridge.TokenTimeout)
		assert.Equal(t, 1000, cfg.Bridge.IDSeed)
		assert.True(t, cfg.Capabilities.Channels)

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:      "minimal-project",
			SubscriptionID: "minimal-sub",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Equal(t, 0, cfg.NumPipelineWorkers)
		assert.Empty(t, cfg.ListenAddr)
		assert.Empty(t, cfg.Vapid.PublicKey)
		assert.Zero(t, cfg.Bridge.ScheduleTimeout)
	})

	t.Run("Failure - malformed duration", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:    "p",
			BridgeConfig: config.YamlBridgeConfig{TokenTimeout: "ten seconds"},
		}

		_, err := config.NewConfigFromYaml(yamlCfg, logger)
		assert.ErrorContains(t, err, "bridge.token_timeout")
	})

	t.Run("Success - decodes nested yaml", func(t *testing.T) {
		raw := []byte(`
project_id: from-yaml
subscription_id: inbound
mobile_transport: none
redis:
  enabled: true
  token_cache_ttl: 30m
bridge:
  standalone: true
capabilities:
  channels: true
`)
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal(raw, &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "from-yaml", cfg.ProjectID)
		assert.Equal(t, config.MobileTransportNone, cfg.MobileTransport)
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, 30*time.Minute, cfg.Redis.TokenCacheTTL)
		assert.True(t, cfg.Bridge.Standalone)
		assert.True(t, cfg.Capabilities.Channels)
		assert.False(t, cfg.Capabilities.ActiveNotifications)
	})
}
