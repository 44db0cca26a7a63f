package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable reports a transport failure: the peer could not
	// be reached or the connection broke mid-call. Calls are never retried.
	ErrRemoteUnavailable = errors.New("remote: unavailable")
	// ErrConnectionClosed reports a call on a connection closed by Close.
	ErrConnectionClosed = errors.New("remote: connection closed")

	ErrModuleNotFound   = errors.New("remote: module not found")
	ErrMethodNotFound   = errors.New("remote: method not found")
	ErrModuleNotActive  = errors.New("remote: module not active")
	ErrCallFailed       = errors.New("remote: call failed")
	ErrBadRequest       = errors.New("remote: bad request")
	ErrArgumentCount    = errors.New("remote: wrong number of arguments")
	ErrServiceClosed    = errors.New("remote: service closed")
	ErrServiceListening = errors.New("remote: service already listening")

	// Transport security configuration errors
	ErrTLSCertFileRequired     = errors.New("remote: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("remote: tls key file required")
	ErrTLSCAFileRequired       = errors.New("remote: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("remote: insecure skip verify not allowed with mutual tls")
	ErrTLSVersion              = errors.New("remote: unsupported tls version")
	ErrTLSCipherSuite          = errors.New("remote: unknown tls cipher suite")
	ErrTLSCAParse              = errors.New("remote: parse tls ca bundle")
)

// Error codes carried in error responses.
const (
	CodeNotFound       = "not_found"
	CodeMethodNotFound = "method_not_found"
	CodeNotActive      = "not_active"
	CodeCallFailed     = "call_failed"
	CodeBadRequest     = "bad_request"
)

// CallError is an error response from the exposing side.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return ErrModuleNotFound
	case CodeMethodNotFound:
		return ErrMethodNotFound
	case CodeNotActive:
		return ErrModuleNotActive
	case CodeBadRequest:
		return ErrBadRequest
	default:
		return ErrCallFailed
	}
}
