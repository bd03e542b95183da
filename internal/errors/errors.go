package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	MsgMethodNotAllowed = "Method Not Allowed"
	MsgNotFound         = "Not Found"
	MsgPromptRequired   = "A prompt is required in the request body."
	MsgInvalidJSON      = "Request body must be valid JSON."
	MsgConfiguration    = "Server configuration error."
	MsgInternal         = "An internal server error occurred."
)

type Kind string

const (
	KindClient        Kind = "client_error"
	KindConfiguration Kind = "configuration_error"
	KindUpstream      Kind = "upstream_error"
	KindUnexpected    Kind = "unexpected_error"
)

type Envelope struct {
	Error string `json:"error"`
}

// Error pairs a public message and status with the internal cause. Only
// Message is ever written to the client.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Client(status int, message string) *Error {
	return &Error{Kind: KindClient, Status: status, Message: message}
}

func Configuration(err error) *Error {
	return &Error{Kind: KindConfiguration, Status: http.StatusInternalServerError, Message: MsgConfiguration, Err: err}
}

func Upstream(err error) *Error {
	return &Error{Kind: KindUpstream, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
}

func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
}

// Classify converts any error into an *Error, treating unknown errors as
// unexpected.
func Classify(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Unexpected(err)
}

func Marshal(message string) []byte {
	if strings.TrimSpace(message) == "" {
		message = MsgInternal
	}
	body, err := json.Marshal(Envelope{Error: message})
	if err != nil {
		return []byte(`{"error":"An internal server error occurred."}`)
	}
	return body
}

func Write(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(Marshal(message))
}

// WriteError logs server-side failures with their cause and writes the public
// envelope. Client errors are not logged.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, requestID string) {
	apiErr := Classify(err)
	if apiErr.Kind != KindClient && logger != nil {
		logger.Error("request failed",
			"kind", string(apiErr.Kind),
			"status", apiErr.Status,
			"error", apiErr.Error(),
			"request_id", requestID,
		)
	}
	Write(w, apiErr.Status, apiErr.Message)
}
