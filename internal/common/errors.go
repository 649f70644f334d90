package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared across the payment bridge. Handlers translate these into
// the canonical JSON envelope or a redirect, depending on the flow.
const (
	CodeConfig     = "CONFIG_ERROR"
	CodeAuth       = "AUTH_ERROR"
	CodeValidation = "VALIDATION_ERROR"
	CodeGateway    = "GATEWAY_ERROR"
	CodeProtocol   = "PROTOCOL_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeDuplicate  = "DUPLICATE_ORDER"
	CodeStore      = "STORE_ERROR"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ConfigError reports missing or invalid deployment configuration.
func ConfigError(message string) *AppError {
	return NewAppError(CodeConfig, message, http.StatusInternalServerError, nil)
}

// AuthError reports a failed or exhausted token exchange with the gateway.
func AuthError(err error) *AppError {
	return NewAppError(CodeAuth, "gateway authentication failed", http.StatusBadGateway, err)
}

// ValidationError reports bad caller input.
func ValidationError(message string, details any) *AppError {
	e := NewAppError(CodeValidation, message, http.StatusBadRequest, nil)
	e.Details = details
	return e
}

// GatewayError reports a non-2xx response from the remote gateway.
func GatewayError(status int, body string) *AppError {
	e := NewAppError(CodeGateway, fmt.Sprintf("gateway returned %d", status), http.StatusBadGateway, nil)
	e.Details = map[string]any{"upstreamStatus": status, "body": body}
	return e
}

// ProtocolError reports a success response that violates the gateway contract.
func ProtocolError(message string) *AppError {
	return NewAppError(CodeProtocol, message, http.StatusBadGateway, nil)
}

// NotFoundError reports a missing payment record.
func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, nil)
}

// DuplicateOrderError reports an order id collision on record creation.
func DuplicateOrderError(orderID string) *AppError {
	return NewAppError(CodeDuplicate, fmt.Sprintf("order %s already exists", orderID), http.StatusConflict, nil)
}

// StoreError wraps a persistence failure.
func StoreError(err error) *AppError {
	return NewAppError(CodeStore, "persistence failure", http.StatusInternalServerError, err)
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// CodeOf extracts the code attached to err, or "INTERNAL" for untyped errors.
func CodeOf(err error) string {
	var target *AppError
	if errors.As(err, &target) {
		return target.Code
	}
	return "INTERNAL"
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var target *AppError
	if errors.As(err, &target) {
		return target.Code == code
	}
	return false
}
