package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
)

// Kind classifies a failed gateway call by how the caller should react to it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindUnexpected Kind = "unexpected"
)

// Failure is the error half of a Result.
type Failure struct {
	Kind      Kind
	Code      pkgerrors.Code
	Message   string
	Details   any
	Status    int
	// RequestID is the server's id for the failed request, when it sent one.
	RequestID string
	cause     error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Message)
	if f.Code != "" {
		msg = fmt.Sprintf("%s (%s): %s", f.Kind, f.Code, f.Message)
	}
	if f.RequestID != "" {
		msg += " [request " + f.RequestID + "]"
	}
	return msg
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.cause
}

// Retryable reports whether repeating the same call may succeed.
func (f *Failure) Retryable() bool {
	return f != nil && f.Kind == KindTransient
}

// Result carries either a value or a Failure. The zero Result is a success
// holding the zero value, so constructors should always be used.
type Result[T any] struct {
	value   T
	failure *Failure
}

func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

func Err[T any](kind Kind, message string) Result[T] {
	return Result[T]{failure: &Failure{Kind: kind, Message: message}}
}

// Fail wraps an existing failure.
func Fail[T any](failure *Failure) Result[T] {
	if failure == nil {
		failure = &Failure{Kind: KindUnexpected, Message: "unknown failure"}
	}
	return Result[T]{failure: failure}
}

// FromError converts err into a failed Result. A nil err yields a success with
// the zero value.
func FromError[T any](err error) Result[T] {
	if err == nil {
		var zero T
		return Ok(zero)
	}
	return Fail[T](failureFrom(err))
}

func (r Result[T]) IsOk() bool {
	return r.failure == nil
}

func (r Result[T]) Value() (T, bool) {
	return r.value, r.failure == nil
}

func (r Result[T]) Error() *Failure {
	return r.failure
}

// Unwrap returns the value and the failure as a plain error, for call sites
// that propagate with `if err != nil`.
func (r Result[T]) Unwrap() (T, error) {
	if r.failure != nil {
		var zero T
		return zero, r.failure
	}
	return r.value, nil
}

// Match invokes exactly one of the callbacks.
func (r Result[T]) Match(onOk func(T), onErr func(*Failure)) {
	if r.failure != nil {
		if onErr != nil {
			onErr(r.failure)
		}
		return
	}
	if onOk != nil {
		onOk(r.value)
	}
}

// Then chains a follow-up call onto a successful Result.
func Then[T, U any](r Result[T], next func(T) Result[U]) Result[U] {
	if r.failure != nil {
		return Fail[U](r.failure)
	}
	return next(r.value)
}

// KindForCode maps an API error code onto the client-side taxonomy.
func KindForCode(code pkgerrors.Code) Kind {
	switch code {
	case pkgerrors.CodeValidation:
		return KindValidation
	case pkgerrors.CodeUnauthorized, pkgerrors.CodeForbidden:
		return KindAuth
	case pkgerrors.CodeNotFound:
		return KindNotFound
	case pkgerrors.CodeConflict, pkgerrors.CodeStateConflict, pkgerrors.CodeIdempotency:
		return KindConflict
	case pkgerrors.CodeRateLimit, pkgerrors.CodeDependency:
		return KindTransient
	default:
		return KindUnexpected
	}
}

func failureFrom(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindTransient, Message: err.Error(), cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Failure{Kind: KindTransient, Message: err.Error(), cause: err}
	}
	if typed := pkgerrors.As(err); typed != nil {
		return &Failure{
			Kind:    KindForCode(typed.Code()),
			Code:    typed.Code(),
			Message: typed.Message(),
			Details: typed.Details(),
			Status:  pkgerrors.MetadataFor(typed.Code()).HTTPStatus,
			cause:   err,
		}
	}
	return &Failure{Kind: KindUnexpected, Message: err.Error(), cause: err}
}
