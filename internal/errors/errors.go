package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeCapacity   ErrorType = "Capacity"
	ErrorTypeLifecycle  ErrorType = "Lifecycle"
	ErrorTypeValidation ErrorType = "Validation"
	ErrorTypeResource   ErrorType = "Resource"
)

// Error is a categorized error carried across the load balancer boundary.
// Callers dispatch on Type (or the Is* helpers) rather than on message text.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new categorized error
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Newf creates a new categorized error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category and message to an underlying error
func Wrap(errType ErrorType, message string, cause error) *Error {
	return &Error{Type: errType, Message: message, Cause: cause}
}

// TypeOf returns the category of err, or an empty string for uncategorized errors
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// QueueFull creates the rejection returned when the request queue is at capacity
func QueueFull(queued, max int) *Error {
	return Newf(ErrorTypeCapacity, "request queue is full (%d/%d)", queued, max)
}

// IsCapacity reports whether err is a capacity rejection (queue full,
// throttled, or concurrency cap reached)
func IsCapacity(err error) bool {
	return TypeOf(err) == ErrorTypeCapacity
}

// IsLifecycle reports whether err is a lifecycle violation such as
// submitting to a stopped balancer
func IsLifecycle(err error) bool {
	return TypeOf(err) == ErrorTypeLifecycle
}
