// Package pushtoken resolves the push tokens an experience uses to receive
// remote notifications.
package pushtoken

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"golang.org/x/time/rate"
)

var (
	// ErrNoInstallationID is returned when the installation id has not been stored yet.
	ErrNoInstallationID = errors.New("installation id not set")
	// ErrNoDeviceToken is returned when no mobile token is registered for the experience.
	ErrNoDeviceToken = errors.New("no device token registered")
)

// Preference keys.
const (
	KeyInstallationID  = "uuid"
	keyExperienceToken = "expo_push_token:"
)

// Preferences is a small persistent key/value store.
type Preferences interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// DeviceProvider returns the platform token registered for an experience.
type DeviceProvider struct {
	tokens dispatch.TokenStore
}

func NewDeviceProvider(tokens dispatch.TokenStore) *DeviceProvider {
	return &DeviceProvider{tokens: tokens}
}

func (p *DeviceProvider) DeviceToken(ctx context.Context, experienceID string) (string, error) {
	targets, err := p.tokens.Fetch(ctx, experienceID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch device tokens: %w", err)
	}
	if targets == nil || len(targets.MobileTokens) == 0 {
		return "", ErrNoDeviceToken
	}
	return targets.MobileTokens[0], nil
}

// DeviceTokenSource is implemented by DeviceProvider.
type DeviceTokenSource interface {
	DeviceToken(ctx context.Context, experienceID string) (string, error)
}

// ExperienceProvider exchanges the device token for an experience-scoped
// token at the token endpoint and caches the result in preferences.
type ExperienceProvider struct {
	prefs    Preferences
	devices  DeviceTokenSource
	client   *http.Client
	endpoint string
	appID    string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

type ExperienceProviderConfig struct {
	Endpoint   string
	AppID      string
	RatePerSec int
}

func NewExperienceProvider(cfg ExperienceProviderConfig, prefs Preferences, devices DeviceTokenSource, client *http.Client, logger *slog.Logger) *ExperienceProvider {
	if client == nil {
		client = http.DefaultClient
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &ExperienceProvider{
		prefs:    prefs,
		devices:  devices,
		client:   client,
		endpoint: cfg.Endpoint,
		appID:    cfg.AppID,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		logger:   logger.With("component", "ExperienceTokenProvider"),
	}
}

type tokenRequest struct {
	DeviceID     string `json:"deviceId"`
	ExperienceID string `json:"experienceId"`
	AppID        string `json:"appId"`
	DeviceToken  string `json:"deviceToken"`
	Type         string `json:"type"`
}

type tokenResponse struct {
	Data struct {
		ExpoPushToken string `json:"expoPushToken"`
	} `json:"data"`
}

// ExperienceToken returns the cached token or requests a new one.
func (p *ExperienceProvider) ExperienceToken(ctx context.Context, experienceID string) (string, error) {
	installationID, ok, err := p.prefs.Get(ctx, KeyInstallationID)
	if err != nil {
		return "", fmt.Errorf("failed to read installation id: %w", err)
	}
	if !ok || installationID == "" {
		return "", ErrNoInstallationID
	}

	cacheKey := keyExperienceToken + experienceID
	if cached, ok, err := p.prefs.Get(ctx, cacheKey); err == nil && ok && cached != "" {
		return cached, nil
	}

	deviceToken, err := p.devices.DeviceToken(ctx, experienceID)
	if err != nil {
		return "", err
	}

	token, err := p.request(ctx, tokenRequest{
		DeviceID:     installationID,
		ExperienceID: experienceID,
		AppID:        p.appID,
		DeviceToken:  deviceToken,
		Type:         "fcm",
	})
	if err != nil {
		return "", err
	}

	if err := p.prefs.Set(ctx, cacheKey, token); err != nil {
		p.logger.Warn("Failed to cache experience token", "experience_id", experienceID, "err", err)
	}
	return token, nil
}

func (p *ExperienceProvider) request(ctx context.Context, body tokenRequest) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("token request rate limited: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if parsed.Data.ExpoPushToken == "" {
		return "", errors.New("token response carried no token")
	}
	return parsed.Data.ExpoPushToken, nil
}
