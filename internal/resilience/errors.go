package resilience

import (
	"errors"
	"net"
	"net/http"
)

// TransientError is a service failure worth retrying: a retryable status, a
// transport error, or an empty or malformed body.
type TransientError struct {
	Service    string
	StatusCode int // 0 when no response arrived
	Err        error
}

func (e *TransientError) Error() string {
	if e.Service == "" {
		return e.Err.Error()
	}
	return e.Service + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewServiceError marks err from service as transient.
func NewServiceError(service string, err error, statusCode int) *TransientError {
	return &TransientError{Service: service, StatusCode: statusCode, Err: err}
}

// IsTransient reports whether err is a TransientError or a network timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
