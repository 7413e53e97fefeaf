package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a TextcallError, it wraps it with the new message.
// Otherwise, it creates a new Internal error wrapping the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	// Preserve the properties of an existing Error
	var te *Error
	if errors.As(err, &te) {
		wrapped := &Error{
			code:      te.code,
			category:  te.category,
			message:   message,
			cause:     err,
			metadata:  te.Metadata(),
			retryable: te.retryable,
			stepID:    te.stepID,
			tool:      te.tool,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	// Check for context errors
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	// Default to internal error for unknown errors
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// As extracts an *Error from an error chain.
// Returns nil if none is found.
func As(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	// Default to not retryable for non-Errors
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}

// IsRecoverable checks if the error should be reported back to the model.
func IsRecoverable(err error) bool {
	return IsCategory(err, CategoryRecoverable)
}

// IsInternal checks if the error is an internal error.
func IsInternal(err error) bool {
	return IsCategory(err, CategoryInternal)
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not an Error.
func Code(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
// Returns empty string if err is not an Error.
func Category(err error) ErrorCategory {
	var te *Error
	if errors.As(err, &te) {
		return te.category
	}
	return ""
}

// GetMetadata extracts metadata from an error.
// Returns nil if err is not an Error.
func GetMetadata(err error) map[string]string {
	var te *Error
	if errors.As(err, &te) {
		return te.Metadata()
	}
	return nil
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
// If all errors are nil, returns nil.
// Uses errors.Join from the standard library.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// KindOf returns the tool failure kind for err. Errors outside the taxonomy
// are reported as "internal".
func KindOf(err error) string {
	if c := Code(err); c != "" {
		return c.Kind()
	}
	return ErrCodeInternal.Kind()
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodeInternal, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
