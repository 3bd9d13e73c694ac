package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"runq/internal/procmgr"
	"runq/internal/sched"
)

// ErrorCode is a structured API error code.
type ErrorCode string

const (
	CodeValidation  ErrorCode = "VALIDATION_ERROR"
	CodeNotFound    ErrorCode = "NOT_FOUND"
	CodeConflict    ErrorCode = "CONFLICT"
	CodeUnavailable ErrorCode = "UNAVAILABLE"
	CodeInternal    ErrorCode = "INTERNAL_ERROR"
)

// APIError is the error half of the response envelope.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil)
}

func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil)
}

func respondError(w http.ResponseWriter, reqID string, status int, apiErr *APIError) {
	respondJSON(w, status, reqID, nil, apiErr)
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, apiErr *APIError) {
	resp := Response{
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// statusFor maps manager and scheduler errors onto HTTP status codes.
func statusFor(err error) (int, *APIError) {
	msg := err.Error()
	switch {
	case errors.Is(err, sched.ErrDuplicateProcess),
		errors.Is(err, procmgr.ErrSchedulingDisabled),
		errors.Is(err, procmgr.ErrNotRunning):
		return http.StatusConflict, &APIError{Code: CodeConflict, Message: msg}
	case errors.Is(err, sched.ErrInvalidQuantum),
		errors.Is(err, procmgr.ErrInvalidPriority),
		errors.Is(err, procmgr.ErrPriorityBound):
		return http.StatusBadRequest, &APIError{Code: CodeValidation, Message: msg}
	case errors.Is(err, procmgr.ErrProcessNotFound),
		errors.Is(err, sched.ErrUnknownProcess):
		return http.StatusNotFound, &APIError{Code: CodeNotFound, Message: msg}
	case errors.Is(err, sched.ErrTaskStopped):
		return http.StatusServiceUnavailable, &APIError{Code: CodeUnavailable, Message: msg}
	default:
		return http.StatusInternalServerError, &APIError{Code: CodeInternal, Message: msg}
	}
}

func validationError(format string, args ...any) *APIError {
	return &APIError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}
