package idpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed call so callers can decide whether to retry.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindTimeout
	KindAuthFailed
	KindNotFound
	KindConflict
	KindClientError
	KindServerError
	KindDecode
)

var kindNames = map[Kind]string{
	KindTransport:   "transport",
	KindTimeout:     "timeout",
	KindAuthFailed:  "auth_failed",
	KindNotFound:    "not_found",
	KindConflict:    "conflict",
	KindClientError: "client_error",
	KindServerError: "server_error",
	KindDecode:      "decode",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrTransport   = errors.New("idpclient: transport failure")
	ErrTimeout     = errors.New("idpclient: timeout")
	ErrAuthFailed  = errors.New("idpclient: authentication failed")
	ErrNotFound    = errors.New("idpclient: not found")
	ErrConflict    = errors.New("idpclient: conflict")
	ErrClientError = errors.New("idpclient: rejected request")
	ErrServerError = errors.New("idpclient: server error")
	ErrDecode      = errors.New("idpclient: undecodable response")
)

var kindSentinels = map[Kind]error{
	KindTransport:   ErrTransport,
	KindTimeout:     ErrTimeout,
	KindAuthFailed:  ErrAuthFailed,
	KindNotFound:    ErrNotFound,
	KindConflict:    ErrConflict,
	KindClientError: ErrClientError,
	KindServerError: ErrServerError,
	KindDecode:      ErrDecode,
}

// Error is returned by every Client operation. StatusCode is zero when no
// response was received.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("idpclient: %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Temporary reports whether retrying the same call later might succeed.
// The client never retries on its own.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindServerError:
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthFailed
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}
