package shipper

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by all carriers.
const (
	CodeAuthentication = "AUTHENTICATION"
	CodeTransport      = "TRANSPORT"
	CodeAPI            = "API_ERROR"
	CodeValidation     = "VALIDATION"
	CodeLabelCreation  = "LABEL_CREATION"
)

// ShipperError represents an error from a shipping carrier.
type ShipperError struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *ShipperError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ShipperError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ShipperError.
func (e *ShipperError) Is(target error) bool {
	t, ok := target.(*ShipperError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewShipperError creates a new ShipperError.
func NewShipperError(carrier, code, message string) *ShipperError {
	return &ShipperError{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *ShipperError) WithCause(err error) *ShipperError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *ShipperError) WithStatusCode(code int) *ShipperError {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *ShipperError) WithRetryable(retryable bool) *ShipperError {
	e.Retryable = retryable
	return e
}

// NewAuthenticationError reports a failed token acquisition.
func NewAuthenticationError(carrier, message string) *ShipperError {
	return NewShipperError(carrier, CodeAuthentication, message)
}

// NewTransportError reports a network failure or timeout.
func NewTransportError(carrier string, cause error) *ShipperError {
	return NewShipperError(carrier, CodeTransport, "request failed").
		WithCause(cause).
		WithRetryable(true)
}

// NewAPIError reports a non-success HTTP status returned by the carrier.
func NewAPIError(carrier string, statusCode int, message string) *ShipperError {
	retryable := statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
	return NewShipperError(carrier, CodeAPI, message).
		WithStatusCode(statusCode).
		WithRetryable(retryable)
}

// NewValidationError reports a malformed request or response.
func NewValidationError(carrier, message string) *ShipperError {
	return NewShipperError(carrier, CodeValidation, message)
}

// NewLabelCreationError reports a failed label request.
func NewLabelCreationError(carrier, message string, cause error) *ShipperError {
	e := NewShipperError(carrier, CodeLabelCreation, message).WithCause(cause)
	var inner *ShipperError
	if errors.As(cause, &inner) {
		e.StatusCode = inner.StatusCode
	}
	return e
}

// Sentinel errors, matched by code with errors.Is.
var (
	// ErrAuthentication indicates the carrier token could not be obtained.
	ErrAuthentication = &ShipperError{Code: CodeAuthentication}

	// ErrTransport indicates the carrier could not be reached.
	ErrTransport = &ShipperError{Code: CodeTransport}

	// ErrAPI indicates the carrier answered with an error status.
	ErrAPI = &ShipperError{Code: CodeAPI}

	// ErrValidation indicates the request or response was malformed.
	ErrValidation = &ShipperError{Code: CodeValidation}

	// ErrLabelCreation indicates a label could not be produced.
	ErrLabelCreation = &ShipperError{Code: CodeLabelCreation}
)

var (
	// ErrCarrierNotFound indicates the requested carrier is not registered.
	ErrCarrierNotFound = errors.New("carrier not found")

	// ErrShipmentNotFound indicates no shipment is stored for a tracking number.
	ErrShipmentNotFound = errors.New("shipment not found")
)

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var shipperErr *ShipperError
	if errors.As(err, &shipperErr) {
		return shipperErr.Retryable
	}
	return false
}
