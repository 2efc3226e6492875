package bridge

import (
	"errors"
	"fmt"
)

// Code is the rejection reason reported to the application layer.
type Code string

const (
	CodeMissingExperienceID    Code = "E_MISSING_EXPERIENCE_ID"
	CodeFailedPresenting       Code = "E_FAILED_PRESENTING_NOTIFICATION"
	CodeUnsupported            Code = "E_UNSUPPORTED"
	CodeUnableToSchedule       Code = "E_UNABLE_TO_SCHEDULE"
	CodeInvalidCalendar        Code = "E_INVALID_CALENDAR"
	CodeInvalidNotificationID  Code = "E_INVALID_NOTIFICATION_ID"
	CodeInvalidArgument        Code = "E_INVALID_ARGUMENT"
	CodeNotStandalone          Code = "E_NOT_STANDALONE"
	CodeGetDeviceTokenFailed   Code = "E_GET_DEVICE_TOKEN_FAILED"
	CodeGetGCMTokenFailed      Code = "E_GET_GCM_TOKEN_FAILED"
	CodeChannelOperationFailed Code = "E_CHANNEL_OPERATION_FAILED"
)

// Error is a rejected bridge operation.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func reject(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of a bridge rejection, or "" for other errors.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
