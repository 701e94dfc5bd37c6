package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrOutcomeMismatch = errors.New("outcomes and outcome prices differ in length")
)

// ErrorKind is the closed set of failure categories surfaced by the scanner.
type ErrorKind int

const (
	KindAPI ErrorKind = iota + 1
	KindNetwork
	KindDecode
	KindInvalidResponse
	KindStorage
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindInvalidResponse:
		return "invalid_response"
	case KindStorage:
		return "storage"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the concrete error type for every ErrorKind. Status and Body are
// only set for KindAPI.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Body   string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var detail string
	switch {
	case e.Kind == KindAPI:
		detail = fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
	case e.Msg != "" && e.Err != nil:
		detail = e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		detail = e.Msg
	case e.Err != nil:
		detail = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, detail)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, detail)
}

func (e *Error) Unwrap() error { return e.Err }

// APIError reports a non-2xx response from the remote API.
func APIError(op string, status int, body string) error {
	return &Error{Kind: KindAPI, Op: op, Status: status, Body: body}
}

// NetworkError reports a transport-level failure.
func NetworkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// DecodeError reports a JSON parse failure.
func DecodeError(op string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// InvalidResponse reports a semantically invalid remote payload.
func InvalidResponse(op, msg string) error {
	return &Error{Kind: KindInvalidResponse, Op: op, Msg: msg}
}

// StorageError reports a backend-internal store failure.
func StorageError(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// ConfigError reports an initialization-time failure.
func ConfigError(op, msg string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Msg: msg, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
