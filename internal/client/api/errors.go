package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GenericErrorMessage is shown when the server gave no usable message.
const GenericErrorMessage = "Something went wrong. Please try again."

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Message returns the user-facing text for err: the server's nested
// error.message when present, the generic fallback otherwise.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return GenericErrorMessage
}

type errorEnvelope struct {
	Error *struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details"`
		RequestID string         `json:"requestId"`
	} `json:"error"`
}

// decodeError builds an *Error from a failed response. Bodies that are not the
// nested envelope still produce an error carrying the generic message.
func decodeError(resp *http.Response) *Error {
	apiErr := &Error{
		StatusCode: resp.StatusCode,
		Message:    GenericErrorMessage,
		RequestID:  resp.Header.Get("X-Request-ID"),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return apiErr
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return apiErr
	}
	if msg := strings.TrimSpace(env.Error.Message); msg != "" {
		apiErr.Message = msg
	}
	apiErr.Code = env.Error.Code
	apiErr.Details = env.Error.Details
	if env.Error.RequestID != "" {
		apiErr.RequestID = env.Error.RequestID
	}
	return apiErr
}
