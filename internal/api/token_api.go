// Package api exposes the bridge and device registration over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// TokenAPI registers the devices that receive an experience's notifications.
type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

// Routes registers the device routes under the experience namespace.
func (api *TokenAPI) Routes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	const exp = "/api/v1/experiences/{experience}"
	mux.Handle("POST "+exp+"/register/mobile", wrap(http.HandlerFunc(api.RegisterMobile)))
	mux.Handle("POST "+exp+"/register/web", wrap(http.HandlerFunc(api.RegisterWeb)))
	mux.Handle("POST "+exp+"/unregister/mobile", wrap(http.HandlerFunc(api.UnregisterMobile)))
	mux.Handle("POST "+exp+"/unregister/web", wrap(http.HandlerFunc(api.UnregisterWeb)))
}

// caller returns the authenticated user and the experience in the path.
func caller(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	experienceID := r.PathValue("experience")
	if experienceID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing experience")
		return "", "", false
	}
	return userID, experienceID, true
}

// --- DOOR A: Mobile (FCM / APNs) ---

type RegisterMobileRequest struct {
	Token string `json:"token"`
}

func (api *TokenAPI) RegisterMobile(w http.ResponseWriter, r *http.Request) {
	userID, experienceID, ok := caller(w, r)
	if !ok {
		return
	}

	var req RegisterMobileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.RegisterMobile(r.Context(), experienceID, req.Token); err != nil {
		api.Logger.Error("failed to register mobile token", "experience_id", experienceID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Debug("RegisterMobile: Token registered", "user", userID, "experience_id", experienceID)

	w.WriteHeader(http.StatusNoContent)
}

// --- DOOR B: Web (VAPID) ---

func (api *TokenAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	userID, experienceID, ok := caller(w, r)
	if !ok {
		return
	}

	var sub notification.WebPushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.Logger.Error("RegisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	if sub.Endpoint == "" || len(sub.Keys.P256dh) == 0 || len(sub.Keys.Auth) == 0 {
		api.Logger.Warn("RegisterWeb: Validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	if err := api.Store.RegisterWeb(r.Context(), experienceID, sub); err != nil {
		api.Logger.Error("failed to register web", "experience_id", experienceID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterWeb: Subscription registered", "user", userID, "experience_id", experienceID, "endpoint", sub.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) UnregisterMobile(w http.ResponseWriter, r *http.Request) {
	_, experienceID, ok := caller(w, r)
	if !ok {
		return
	}

	var req RegisterMobileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	// Unregister stays idempotent; a storage failure is only logged.
	if err := api.Store.UnregisterMobile(r.Context(), experienceID, req.Token); err != nil {
		api.Logger.Warn("failed to unregister mobile token", "experience_id", experienceID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- UNREGISTER DOOR B: Web (VAPID) ---

type UnregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

func (api *TokenAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	userID, experienceID, ok := caller(w, r)
	if !ok {
		return
	}

	var req UnregisterWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Error("UnregisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Endpoint == "" {
		api.Logger.Warn("UnregisterWeb: Validation failed", "reason", "missing endpoint")
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.UnregisterWeb(r.Context(), experienceID, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister web", "experience_id", experienceID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister web")
		return
	}
	api.Logger.Info("UnregisterWeb: Subscription unregistered", "user", userID, "experience_id", experienceID, "endpoint", req.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}
