package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError is a failure worth another attempt. StatusCode is zero
// when the failure was not an HTTP response.
type TransientError struct {
	Err        error
	StatusCode int
}

// NewTransientError marks err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableErrno = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED}

// Some transports flatten the cause into the message.
var retryableText = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err, or anything it wraps, is retryable: an
// explicit TransientError, a network timeout, a dropped connection, or a
// message naming one of those.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return isNetworkTimeout(err) || isDroppedConn(err) || mentionsTransient(err.Error())
}

func isNetworkTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isDroppedConn(err error) bool {
	for _, target := range retryableErrno {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mentionsTransient(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range retryableText {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a response with this status may
// succeed on retry.
func IsTransientHTTPStatus(statusCode int) bool {
	return retryableStatus[statusCode]
}

// CheckHTTPStatus turns a non-2xx response from target into an error,
// transient when the status is retryable.
func CheckHTTPStatus(statusCode int, target string) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	err := eris.Errorf("http %d from %s", statusCode, target)
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	return err
}
