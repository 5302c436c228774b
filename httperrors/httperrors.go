// Package httperrors provides the error types shared by the Bot API client, the long-poll
// engine and the webhook receiver.
package httperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/en9inerd/go-tgbot/types"
)

// Error is an error reply written by the webhook receiver
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// WriteJSON writes the error as JSON to the response
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(e)
}

// ValidationError lists the problems found while validating a method or a configuration
type ValidationError struct {
	FieldErrors    map[string][]string `json:"fieldErrors"`
	NonFieldErrors []string            `json:"nonFieldErrors"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.NonFieldErrors) > 0 {
		return e.NonFieldErrors[0]
	}
	if len(e.FieldErrors) > 0 {
		for field, errors := range e.FieldErrors {
			if len(errors) > 0 {
				return fmt.Sprintf("%s: %s", field, errors[0])
			}
		}
	}
	return "validation failed"
}

// APIError is an unsuccessful Bot API response ({"ok": false, ...}).
//
// RetryAfter is the number of seconds the server asked the client to wait before
// repeating the request; zero means no hint was given.
type APIError struct {
	Method          string `json:"method"`
	Code            int    `json:"error_code"`
	Description     string `json:"description"`
	RetryAfter      int    `json:"retry_after,omitempty"`
	MigrateToChatID int64  `json:"migrate_to_chat_id,omitempty"`
	Err             error  `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram %s: %s (code %d)", e.Method, e.Description, e.Code)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf("; retry after %ds", e.RetryAfter)
	}
	if e.MigrateToChatID != 0 {
		msg += fmt.Sprintf("; migrated to chat %d", e.MigrateToChatID)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *APIError) Unwrap() error {
	return e.Err
}

// CanRetry reports whether the server attached a retry_after hint
func (e *APIError) CanRetry() bool {
	return e.RetryAfter > 0
}

// NetworkError is a failure to reach the Bot API at all
type NetworkError struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DecodeError is a response body that could not be decoded
type DecodeError struct {
	Method string `json:"method"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return fmt.Sprintf("telegram %s: decode response (http %d): %v", e.Method, e.Status, e.Err)
}

// Unwrap returns the underlying error
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewError creates a new HTTP error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithErr creates a new HTTP error wrapping an underlying error
func NewErrorWithErr(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
		Details: err.Error(),
	}
}

// NewValidationError creates a new validation error
func NewValidationError(fieldErrors map[string][]string, nonFieldErrors []string) *ValidationError {
	return &ValidationError{
		FieldErrors:    fieldErrors,
		NonFieldErrors: nonFieldErrors,
	}
}

// NewAPIError creates a new API error
func NewAPIError(method string, code int, description string) *APIError {
	return &APIError{
		Method:      method,
		Code:        code,
		Description: description,
	}
}

// NewAPIErrorWithParameters creates a new API error carrying the response parameters
func NewAPIErrorWithParameters(method string, code int, description string, params *types.ResponseParameters) *APIError {
	e := NewAPIError(method, code, description)
	if params != nil {
		e.RetryAfter = params.RetryAfter
		e.MigrateToChatID = params.MigrateToChatID
	}
	return e
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, err error) *NetworkError {
	return &NetworkError{
		Message: message,
		Err:     err,
	}
}

// NewDecodeError creates a new decode error
func NewDecodeError(method string, status int, err error) *DecodeError {
	return &DecodeError{
		Method: method,
		Status: status,
		Err:    err,
	}
}

// RetryAfter returns the wait the server asked for, if err carries an APIError with a hint
func RetryAfter(err error) (time.Duration, bool) {
	var ae *APIError
	if !errors.As(err, &ae) || !ae.CanRetry() {
		return 0, false
	}
	return time.Duration(ae.RetryAfter) * time.Second, true
}

// IsRateLimited checks if an error is an APIError carrying a retry_after hint
func IsRateLimited(err error) bool {
	_, ok := RetryAfter(err)
	return ok
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAPIError checks if an error is an APIError
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

// IsNetworkError checks if an error is a NetworkError
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsDecodeError checks if an error is a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsHTTPError checks if an error is an HTTP Error
func IsHTTPError(err error) bool {
	var he *Error
	return errors.As(err, &he)
}
