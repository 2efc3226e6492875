package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-notification-bridge/internal/bridge"
)

// ErrorBody is the JSON shape of a rejected bridge call.
type ErrorBody struct {
	Code    bridge.Code `json:"code"`
	Message string      `json:"message"`
}

func statusFor(code bridge.Code) int {
	switch code {
	case bridge.CodeInvalidArgument, bridge.CodeInvalidCalendar, bridge.CodeInvalidNotificationID:
		return http.StatusBadRequest
	case bridge.CodeMissingExperienceID:
		return http.StatusConflict
	case bridge.CodeNotStandalone:
		return http.StatusForbidden
	case bridge.CodeUnsupported:
		return http.StatusNotImplemented
	case bridge.CodeGetDeviceTokenFailed, bridge.CodeGetGCMTokenFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeBridgeError reports a bridge rejection with its code, or a generic
// failure for anything else.
func writeBridgeError(w http.ResponseWriter, err error) {
	var be *bridge.Error
	if !errors.As(err, &be) {
		response.WriteJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, statusFor(be.Code), ErrorBody{Code: be.Code, Message: be.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
