package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeNotImplemented    ErrCode = "NotImplemented"
	ErrCodeNotFound          ErrCode = "NotFound"
	ErrCodeServiceFailure    ErrCode = "ServiceFailure"
	ErrCodeBadRequest        ErrCode = "BadRequest"
	ErrCodeDependencyFailure ErrCode = "DependencyFailure"
	ErrCodeExisted           ErrCode = "Existed"
	ErrCodeUnauthorized      ErrCode = "Unauthorized"
	ErrCodeForbidden         ErrCode = "Forbidden"
	ErrCodeTooManyRequests   ErrCode = "TooManyRequests"
	// failures of calls to the wave service which are surfaced as non-blocking notices
	ErrCodeTransientNetwork ErrCode = "TransientNetwork"
	// index outside of the bounds of a viewer session's frozen queue
	ErrCodeStaleQueue ErrCode = "StaleQueue"
	// viewer session started without any wave to show
	ErrCodeEmptyQueue ErrCode = "EmptyQueue"
)

// Err is the error type shared by every wave component.
type Err struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *Err) Error() string {
	return e.msg
}

// Trace returns the chain of causes associated with the error, one cause per line
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	indent := "\n"
	err := errors.Unwrap(e)
	for err != nil {
		indent += "\t"
		b.WriteString(indent)
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

// New returns an Err of arbitrary code. Prefer the code-specific constructors below.
func New(code ErrCode, m string) *Err {
	return &Err{Code: code, msg: m}
}

// prefer NewXXX(msg).WithCause(cause) over NewXXX(msg, cause) since the cause is explicit at call site
func NewServiceFailure(m string) *Err {
	return New(ErrCodeServiceFailure, m)
}

func NewNotFound(m string) *Err {
	return New(ErrCodeNotFound, m)
}

func NewBadInput(m string) *Err {
	return New(ErrCodeBadRequest, m)
}

func NewNotImplemented() *Err {
	return New(ErrCodeNotImplemented, "Not implemented")
}

func NewExisted(m string) *Err {
	return New(ErrCodeExisted, m)
}

func NewDependencyFailure(m string) *Err {
	return New(ErrCodeDependencyFailure, m)
}

func NewUnauthorized(m string) *Err {
	return New(ErrCodeUnauthorized, m)
}

func NewForbidden(m string) *Err {
	return New(ErrCodeForbidden, m)
}

func NewTooManyRequests(m string) *Err {
	return New(ErrCodeTooManyRequests, m)
}

func NewTransientNetwork(m string) *Err {
	return New(ErrCodeTransientNetwork, m)
}

func NewStaleQueue(m string) *Err {
	return New(ErrCodeStaleQueue, m)
}

func NewEmptyQueue() *Err {
	return New(ErrCodeEmptyQueue, "cannot start viewer on an empty queue")
}

// CodeOf returns the code of the first *Err found in err's chain, or "" when there is none.
func CodeOf(err error) ErrCode {
	var e *Err
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusCode returns the http response status code associated with the Err value
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeExisted:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case ErrCodeDependencyFailure, ErrCodeTransientNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON representation of an Err in http responses
type Body struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

func (e *Err) Body() Body {
	return Body{Code: e.Code, Message: e.msg}
}

// FromBody turns an error response body back into an Err. Bodies without a code are reported as
// dependency failures.
func FromBody(b Body) *Err {
	if b.Code == "" {
		return NewDependencyFailure(b.Message)
	}
	return New(b.Code, b.Message)
}
