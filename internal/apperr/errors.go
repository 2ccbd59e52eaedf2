package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation           Kind = "VALIDATION"
	KindNotFound             Kind = "NOT_FOUND"
	KindConflict             Kind = "CONFLICT"
	KindInsufficientResource Kind = "INSUFFICIENT_RESOURCE"
	KindTransientInfra       Kind = "TRANSIENT_INFRA"
	KindInternal             Kind = "INTERNAL"
)

// Codes narrowing a kind.
const (
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeNotEnoughPoints   = "NOT_ENOUGH"
	CodeDuplicate         = "DUPLICATE"
)

// Error is an application error carrying its Kind
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind and message
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithCode returns a copy of e with the given code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

func Validation(format string, args ...interface{}) *Error {
	return Newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return Newf(KindConflict, format, args...).WithCode(CodeDuplicate)
}

func InsufficientStock(productID int64, available, requested int) *Error {
	return Newf(KindInsufficientResource, "insufficient stock for product %d: available=%d, requested=%d",
		productID, available, requested).WithCode(CodeInsufficientStock)
}

func NotEnoughPoints(balance, requested int64) *Error {
	return Newf(KindInsufficientResource, "not enough points: balance=%d, requested=%d",
		balance, requested).WithCode(CodeNotEnoughPoints)
}

func Transient(err error, message string) *Error {
	return Wrap(err, KindTransientInfra, message)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the code of err, empty when none is set.
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}
