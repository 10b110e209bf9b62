// Package errs defines the error taxonomy shared by the canteen services.
//
// Every rejection carries a Code. Sentinel values let callers match with
// errors.Is regardless of the message or wrapped cause:
//
//	if errors.Is(err, errs.ErrInsufficientStock) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Code represents the category of a rejected operation.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidArgument
	CodeFailedPrecondition
	CodeInsufficientStock
	CodeItemNotFound
	CodeDuplicateName
	CodePaymentUnresolved
	CodePersistence
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeFailedPrecondition:
		return "FAILED_PRECONDITION"
	case CodeInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case CodeItemNotFound:
		return "ITEM_NOT_FOUND"
	case CodeDuplicateName:
		return "DUPLICATE_NAME"
	case CodePaymentUnresolved:
		return "PAYMENT_UNRESOLVED"
	case CodePersistence:
		return "PERSISTENCE_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Error is returned when an operation is rejected.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrFailedPrecondition = &Error{Code: CodeFailedPrecondition, Message: "failed precondition"}
	ErrInsufficientStock  = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrItemNotFound       = &Error{Code: CodeItemNotFound, Message: "item not found"}
	ErrDuplicateName      = &Error{Code: CodeDuplicateName, Message: "duplicate name"}
	ErrPaymentUnresolved  = &Error{Code: CodePaymentUnresolved, Message: "payment unresolved"}
	ErrPersistence        = &Error{Code: CodePersistence, Message: "persistence failure"}
)

// New creates an Error with a message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument creates an error for invalid input.
func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// FailedPrecondition creates an error for a violated precondition.
func FailedPrecondition(message string) *Error {
	return New(CodeFailedPrecondition, message)
}

// Persistence wraps a store failure. Callers must surface it.
func Persistence(op string, err error) *Error {
	return &Error{Code: CodePersistence, Message: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
