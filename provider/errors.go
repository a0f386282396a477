package provider

import (
	"fmt"
	"net/http"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// ErrNotConfigured means no API key is available from the config source.
var ErrNotConfigured = errors.New("telephony provider not configured")

// APIError is a non-2xx response. Detail carries the provider's own text.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Code       string
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("provider %s %s: %d (code %s): %s", e.Method, e.Path, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("provider %s %s: %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// errorBody is the provider's error envelope.
type errorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == status
}
