package errors

// ErrorCategory classifies errors by how the agent loop should react to them.
type ErrorCategory string

const (
	// CategoryTransient covers failures where a later attempt may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent covers failures a retry with the same input cannot fix.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryRecoverable covers failures the model can fix itself once told about them,
	// such as a malformed call or bad tool parameters.
	CategoryRecoverable ErrorCategory = "recoverable"

	// CategoryInternal covers bugs and broken infrastructure.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	// Model generation
	ErrCodeGeneration ErrorCode = "GENERATION_FAILED" // Responder could not produce a turn
	ErrCodeTruncated  ErrorCode = "TRUNCATED"         // Output hit the token limit

	// Tool calls
	ErrCodeMalformedCall  ErrorCode = "MALFORMED_CALL"    // Call syntax found but payload unusable
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"         // Unknown tool or missing resource
	ErrCodeInvalidParams  ErrorCode = "INVALID_PARAMS"    // Parameters failed validation
	ErrCodeToolFailed     ErrorCode = "TOOL_FAILED"       // Tool ran and reported failure
	ErrCodeInfrastructure ErrorCode = "INFRASTRUCTURE"    // Tool runner itself is broken
	ErrCodePermission     ErrorCode = "PERMISSION_DENIED" // Tool disabled by policy

	// Transport and lifecycle
	ErrCodeTimeout     ErrorCode = "TIMEOUT"      // Operation timed out
	ErrCodeCanceled    ErrorCode = "CANCELED"     // Caller canceled
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"  // Upstream temporarily unavailable
	ErrCodeRateLimit   ErrorCode = "RATE_LIMITED" // Upstream rate limit
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"  // Operation not supported
	ErrCodeConfig      ErrorCode = "CONFIG"       // Invalid configuration
	ErrCodeInternal    ErrorCode = "INTERNAL"     // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeRateLimit:
		return CategoryTransient

	case ErrCodeMalformedCall, ErrCodeNotFound, ErrCodeInvalidParams, ErrCodeToolFailed, ErrCodePermission:
		return CategoryRecoverable

	case ErrCodeGeneration, ErrCodeTruncated, ErrCodeCanceled, ErrCodeUnsupported, ErrCodeConfig:
		return CategoryPermanent

	case ErrCodeInfrastructure, ErrCodeInternal:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeGeneration:     "model generation failed",
	ErrCodeTruncated:      "model output was truncated",
	ErrCodeMalformedCall:  "tool call could not be parsed",
	ErrCodeNotFound:       "not found",
	ErrCodeInvalidParams:  "invalid tool parameters",
	ErrCodeToolFailed:     "tool execution failed",
	ErrCodeInfrastructure: "tool infrastructure unavailable",
	ErrCodePermission:     "denied by policy",
	ErrCodeTimeout:        "operation timed out",
	ErrCodeCanceled:       "operation canceled",
	ErrCodeUnavailable:    "service temporarily unavailable",
	ErrCodeRateLimit:      "rate limit exceeded",
	ErrCodeUnsupported:    "operation not supported",
	ErrCodeConfig:         "invalid configuration",
	ErrCodeInternal:       "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// Kind returns the lower-case form used as a tool failure kind, e.g. "not_found".
func (c ErrorCode) Kind() string {
	out := make([]byte, len(c))
	for i := 0; i < len(c); i++ {
		b := c[i]
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		out[i] = b
	}
	return string(out)
}
