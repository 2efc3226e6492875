package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-notification-bridge/internal/bridge"
	"github.com/tinywideclouds/go-notification-bridge/internal/cronbuilder"
	"github.com/tinywideclouds/go-notification-bridge/internal/manifest"
	"github.com/tinywideclouds/go-notification-bridge/internal/scheduler"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

const maxManifestBytes = 1 << 20

// ModuleHost owns the active bridge modules.
type ModuleHost interface {
	Activate(ctx context.Context, manifestData []byte) (*bridge.Module, error)
	Module(experienceID string) (*bridge.Module, bool)
	Deactivate(experienceID string) bool
	Experiences() []string
}

// PresenceSetter records the importance reported by the application layer.
type PresenceSetter interface {
	Set(experienceID string, imp notifications.Importance)
}

// EventDrainer hands out the events queued for an experience.
type EventDrainer interface {
	Drain(experienceID string) []notifications.Event
}

// BridgeAPI exposes the bridge module operations over HTTP. Every
// experience-scoped route carries the experience id as an escaped path
// segment.
type BridgeAPI struct {
	Host       ModuleHost
	Presence   PresenceSetter
	PostOffice notifications.PostOffice
	Events     EventDrainer
	Logger     *slog.Logger
}

func NewBridgeAPI(host ModuleHost, presence PresenceSetter, postOffice notifications.PostOffice, events EventDrainer, logger *slog.Logger) *BridgeAPI {
	return &BridgeAPI{
		Host:       host,
		Presence:   presence,
		PostOffice: postOffice,
		Events:     events,
		Logger:     logger.With("component", "BridgeAPI"),
	}
}

// Routes registers the handlers, each wrapped by wrap.
func (api *BridgeAPI) Routes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, wrap(h))
	}
	const exp = "/api/v1/experiences/{experience}"

	handle("POST /api/v1/modules", api.ActivateModule)
	handle("GET /api/v1/modules", api.ListModules)
	handle("DELETE /api/v1/modules/{experience}", api.DeactivateModule)

	handle("PUT "+exp+"/categories/{category}", api.CreateCategory)
	handle("DELETE "+exp+"/categories/{category}", api.DeleteCategory)
	handle("PUT "+exp+"/channels/{channel}", api.CreateChannel)
	handle("DELETE "+exp+"/channels/{channel}", api.DeleteChannel)
	handle("PUT "+exp+"/channel-groups/{group}", api.CreateChannelGroup)
	handle("DELETE "+exp+"/channel-groups/{group}", api.DeleteChannelGroup)

	handle("POST "+exp+"/notifications", api.PresentNotification)
	handle("DELETE "+exp+"/notifications/{id}", api.DismissNotification)
	handle("DELETE "+exp+"/notifications", api.DismissAllNotifications)

	handle("POST "+exp+"/schedules/timer", api.ScheduleWithTimer)
	handle("POST "+exp+"/schedules/calendar", api.ScheduleWithCalendar)
	handle("POST "+exp+"/schedules/legacy", api.ScheduleLegacy)
	handle("GET "+exp+"/schedules", api.ListSchedules)
	handle("DELETE "+exp+"/schedules/{id}", api.CancelSchedule)
	handle("DELETE "+exp+"/schedules", api.CancelAllSchedules)

	handle("POST "+exp+"/push-token/device", api.DevicePushToken)
	handle("GET "+exp+"/push-token/experience", api.ExperiencePushToken)

	handle("PUT "+exp+"/state", api.SetState)
	handle("POST "+exp+"/interactions", api.UserInteraction)
	handle("GET "+exp+"/events", api.DrainEvents)
}

// --- Modules ---

func (api *BridgeAPI) ActivateModule(w http.ResponseWriter, r *http.Request) {
	manifestData, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBytes))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "could not read manifest")
		return
	}
	mod, err := api.Host.Activate(r.Context(), manifestData)
	if err != nil {
		api.Logger.Warn("Module activation failed", "err", err)
		if errors.Is(err, manifest.ErrMissingExperienceID) {
			writeJSON(w, http.StatusConflict, ErrorBody{Code: bridge.CodeMissingExperienceID, Message: "manifest has no experience id"})
			return
		}
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"experienceId": mod.ExperienceID()})
}

func (api *BridgeAPI) ListModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"experiences": api.Host.Experiences()})
}

func (api *BridgeAPI) DeactivateModule(w http.ResponseWriter, r *http.Request) {
	if !api.Host.Deactivate(r.PathValue("experience")) {
		response.WriteJSONError(w, http.StatusNotFound, "module not active")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// module resolves the experience in the path or writes a 404.
func (api *BridgeAPI) module(w http.ResponseWriter, r *http.Request) (*bridge.Module, bool) {
	experienceID := r.PathValue("experience")
	mod, ok := api.Host.Module(experienceID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorBody{Code: bridge.CodeMissingExperienceID, Message: "no active module for " + experienceID})
		return nil, false
	}
	return mod, true
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// --- Categories & channels ---

type categoryRequest struct {
	Actions []notifications.Action `json:"actions"`
}

func (api *BridgeAPI) CreateCategory(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if !decode(w, r, &req) {
		return
	}
	if err := mod.CreateCategory(r.Context(), r.PathValue("category"), req.Actions); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *BridgeAPI) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	if err := mod.DeleteCategory(r.Context(), r.PathValue("category")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *BridgeAPI) CreateChannel(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var data notifications.Payload
	if !decode(w, r, &data) {
		return
	}
	if err := mod.CreateChannel(r.Context(), r.PathValue("channel"), data); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *BridgeAPI) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	if err := mod.DeleteChannel(r.Context(), r.PathValue("channel")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type channelGroupRequest struct {
	Name string `json:"name"`
}

func (api *BridgeAPI) CreateChannelGroup(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var req channelGroupRequest
	if !decode(w, r, &req) {
		return
	}
	if err := mod.CreateChannelGroup(r.Context(), r.PathValue("group"), req.Name); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *BridgeAPI) DeleteChannelGroup(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	if err := mod.DeleteChannelGroup(r.Context(), r.PathValue("group")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Notifications ---

type presentRequest struct {
	Data              notifications.Payload `json:"data"`
	LegacyChannelData notifications.Payload `json:"legacyChannelData,omitempty"`
}

func (api *BridgeAPI) PresentNotification(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var req presentRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := mod.PresentLocalNotification(r.Context(), req.Data, req.LegacyChannelData)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"notificationId": id})
}

func (api *BridgeAPI) DismissNotification(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	if err := mod.DismissNotification(r.Context(), r.PathValue("id")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *BridgeAPI) DismissAllNotifications(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	if err := mod.DismissAllNotifications(r.Context()); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Scheduling ---

type timerRequest struct {
	Data    notifications.Payload `json:"data"`
	Options bridge.TimerOptions   `json:"options"`
}

type calendarRequest struct {
	Data    notifications.Payload `json:"data"`
	Options cronbuilder.Options   `json:"options"`
}

type legacyScheduleRequest struct {
	Data              notifications.Payload   `json:"data"`
	Options           scheduler.LegacyOptions `json:"options"`
	LegacyChannelData notifications.Payload   `json:"legacyChannelData,omitempty"`
}

// ScheduleView is the listing form of a schedule.
type ScheduleView struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	NotificationID int       `json:"notificationId,omitempty"`
	NextFire       time.Time `json:"nextFire"`
}

func (api *BridgeAPI) ScheduleWithTimer(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var req timerRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := mod.ScheduleNotificationWithTimer(r.Context(), req.Data, req.Options)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (api *BridgeAPI) ScheduleWithCalendar(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var req calendarRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := mod.ScheduleNotificationWithCalendar(r.Context(), req.Data, req.Options)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (api *BridgeAPI) ScheduleLegacy(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var req legacyScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := mod.ScheduleLocalNotificationWithChannel(r.Context(), req.Data, req.Options, req.LegacyChannelData)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"notificationId": id})
}

func (api *BridgeAPI) ListSchedules(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	records, err := mod.ScheduledNotifications()
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	views := make([]ScheduleView, 0, len(records))
	for _, rec := range records {
		views = append(views, ScheduleView{ID: rec.ID, Kind: rec.Kind, NotificationID: rec.NotificationID, NextFire: rec.NextFire})
	}
	writeJSON(w, http.StatusOK, map[string][]ScheduleView{"schedules": views})
}

func (api *BridgeAPI) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	if err := mod.CancelScheduledNotification(r.Context(), r.PathValue("id")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *BridgeAPI) CancelAllSchedules(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	if err := mod.CancelAllScheduledNotifications(r.Context()); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Push tokens ---

func (api *BridgeAPI) DevicePushToken(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	var config notifications.Payload
	if r.ContentLength != 0 && !decode(w, r, &config) {
		return
	}
	token, err := mod.GetDevicePushToken(r.Context(), config)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (api *BridgeAPI) ExperiencePushToken(w http.ResponseWriter, r *http.Request) {
	mod, ok := api.module(w, r)
	if !ok {
		return
	}
	token, err := mod.GetExperiencePushToken(r.Context())
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// --- Presence & mailbox ---

type stateRequest struct {
	Importance string `json:"importance"`
}

// SetState does not require an active module; presence is tracked for
// experiences in any state.
func (api *BridgeAPI) SetState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !decode(w, r, &req) {
		return
	}
	imp, ok := notifications.ParseImportance(req.Importance)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: bridge.CodeInvalidArgument, Message: "unknown importance " + req.Importance})
		return
	}
	api.Presence.Set(r.PathValue("experience"), imp)
	w.WriteHeader(http.StatusNoContent)
}

// UserInteraction reports a tap on a notification. The post office queues
// it when the experience has no active module.
func (api *BridgeAPI) UserInteraction(w http.ResponseWriter, r *http.Request) {
	var payload notifications.Payload
	if !decode(w, r, &payload) {
		return
	}
	if err := api.PostOffice.NotifyUserInteraction(r.Context(), r.PathValue("experience"), payload); err != nil {
		api.Logger.Error("Failed to deliver user interaction", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "delivery failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (api *BridgeAPI) DrainEvents(w http.ResponseWriter, r *http.Request) {
	events := api.Events.Drain(r.PathValue("experience"))
	if events == nil {
		events = []notifications.Event{}
	}
	writeJSON(w, http.StatusOK, map[string][]notifications.Event{"events": events})
}
