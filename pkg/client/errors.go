package client

import (
	"errors"
	"fmt"
)

// Kind classifies an API failure.
type Kind int

const (
	// KindTransport covers network errors and unreachable servers.
	KindTransport Kind = iota
	// KindAuth covers 401/403 responses.
	KindAuth
	// KindBadRequest covers other 4xx responses.
	KindBadRequest
	// KindServer covers 5xx responses.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad-request"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// APIError is a classified failure from a console API call.
type APIError struct {
	Kind    Kind
	Status  int    // HTTP status, 0 for transport failures
	Op      string // endpoint shorthand, e.g. "sidebar/tree"
	Message string
	Err     error // underlying transport error, if any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Kind)
	}
	return fmt.Sprintf("%s: status %d (%s)", e.Op, e.Status, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err if it is an APIError. Unclassified errors
// report KindTransport, which matches how they arise.
func KindOf(err error) Kind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransport
}

// IsAuth reports whether err is a 401/403 API failure.
func IsAuth(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Kind == KindAuth
}

func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status >= 500:
		return KindServer
	default:
		return KindBadRequest
	}
}
