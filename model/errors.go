package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError reports a failed vendor call. StatusCode is 0 when no HTTP
// response was received.
type TransportError struct {
	Provider   string
	StatusCode int
	Timeout    bool
	Err        error
}

// NewTransportError wraps err for provider, detecting timeouts.
func NewTransportError(provider string, statusCode int, err error) *TransportError {
	return &TransportError{
		Provider:   provider,
		StatusCode: statusCode,
		Timeout:    isTimeout(err),
		Err:        err,
	}
}

// Error implements error.
func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: timeout: %v", e.Provider, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// RateLimited reports whether the vendor answered 429.
func (e *TransportError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// Body returns the vendor supplied error text.
func (e *TransportError) Body() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ConfigError reports a model that cannot be constructed or resolved.
type ConfigError struct {
	Model   string
	Message string
	Err     error
}

// Error implements error.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %q: %s: %v", e.Model, e.Message, e.Err)
	}
	return fmt.Sprintf("model %q: %s", e.Model, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
