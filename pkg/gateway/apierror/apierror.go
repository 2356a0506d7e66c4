// Package apierror maps gateway errors onto the JSON envelope returned by
// every REST endpoint.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
	"github.com/aj47/awaken-ambience/pkg/gateway/relay/protocol"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrAPI            ErrorType = "api_error"
)

type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Param     string    `json:"param,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError converts err to the wire error and its HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, statusFromType(out.Type)
	}

	if errors.Is(err, auth.ErrInvalidToken) {
		return &Error{
			Type:      ErrAuthentication,
			Message:   "invalid or missing bearer token",
			RequestID: requestID,
		}, http.StatusUnauthorized
	}

	if errors.Is(err, memory.ErrNotFound) {
		return &Error{
			Type:      ErrNotFound,
			Message:   "memory not found",
			RequestID: requestID,
		}, http.StatusNotFound
	}

	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) && decodeErr != nil {
		return &Error{
			Type:      ErrInvalidRequest,
			Message:   decodeErr.Message,
			Param:     decodeErr.Param,
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes err as the standard envelope with its mapped status.
func Write(w http.ResponseWriter, err error, requestID string) {
	apiErr, status := FromError(err, requestID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: apiErr})
}
