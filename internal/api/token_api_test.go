package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-bridge/internal/api"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// --- Mocks ---
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) RegisterMobile(ctx context.Context, experienceID, token string) error {
	return m.Called(ctx, experienceID, token).Error(0)
}
func (m *MockTokenStore) RegisterWeb(ctx context.Context, experienceID string, sub notification.WebPushSubscription) error {
	return m.Called(ctx, experienceID, sub).Error(0)
}
func (m *MockTokenStore) UnregisterMobile(ctx context.Context, experienceID, token string) error {
	return m.Called(ctx, experienceID, token).Error(0)
}
func (m *MockTokenStore) UnregisterWeb(ctx context.Context, experienceID, endpoint string) error {
	return m.Called(ctx, experienceID, endpoint).Error(0)
}
func (m *MockTokenStore) Fetch(ctx context.Context, experienceID string) (*dispatch.DeviceTargets, error) {
	args := m.Called(ctx, experienceID)
	return args.Get(0).(*dispatch.DeviceTargets), args.Error(1)
}

const testExperience = "@tester/app"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identity(h http.Handler) http.Handler { return h }

// --- Setup ---
func setupTokenAPI(t *testing.T) (*http.ServeMux, *MockTokenStore) {
	t.Helper()
	mockStore := new(MockTokenStore)
	mux := http.NewServeMux()
	api.NewTokenAPI(mockStore, newTestLogger()).Routes(mux, identity)
	return mux, mockStore
}

func experiencePath(experienceID, suffix string) string {
	return "/api/v1/experiences/" + url.PathEscape(experienceID) + suffix
}

// withUser simulates the auth middleware.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

// --- Tests ---

func TestRegisterMobile(t *testing.T) {
	mux, mockStore := setupTokenAPI(t)

	t.Run("Success", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": "fcm-token-abc"})
		req := withUser(httptest.NewRequest(http.MethodPost, experiencePath(testExperience, "/register/mobile"), bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("RegisterMobile", mock.Anything, testExperience, "fcm-token-abc").Return(nil)

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Empty Token", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": ""})
		req := withUser(httptest.NewRequest(http.MethodPost, experiencePath(testExperience, "/register/mobile"), bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Anonymous Caller", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": "t"})
		req := httptest.NewRequest(http.MethodPost, experiencePath(testExperience, "/register/mobile"), bytes.NewReader(body))
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Unregister is idempotent", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": "gone"})
		req := withUser(httptest.NewRequest(http.MethodPost, experiencePath(testExperience, "/unregister/mobile"), bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("UnregisterMobile", mock.Anything, testExperience, "gone").Return(assert.AnError)

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRegisterWeb(t *testing.T) {
	mux, mockStore := setupTokenAPI(t)

	validSub := notification.WebPushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/xyz",
		Keys: struct {
			P256dh []byte `json:"p256dh"`
			Auth   []byte `json:"auth"`
		}{
			P256dh: []byte{0xDE, 0xAD, 0xBE, 0xEF},
			Auth:   []byte{0xCA, 0xFE, 0xBA, 0xBE},
		},
	}

	t.Run("Success", func(t *testing.T) {
		body, _ := json.Marshal(validSub)
		req := withUser(httptest.NewRequest(http.MethodPost, experiencePath(testExperience, "/register/web"), bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("RegisterWeb", mock.Anything, testExperience, validSub).Return(nil)

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Missing Keys (Invalid Object)", func(t *testing.T) {
		invalidPayload := `{"endpoint": "https://valid.com"}`
		req := withUser(httptest.NewRequest(http.MethodPost, experiencePath(testExperience, "/register/web"), bytes.NewReader([]byte(invalidPayload))), "user-123")
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unregister requires endpoint", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodPost, experiencePath(testExperience, "/unregister/web"), bytes.NewReader([]byte(`{}`))), "user-123")
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
