// Package errors provides the structured error taxonomy used across textcall.
//
// Errors carry a code and a category. The category tells the agent loop what
// to do with a failure:
//
//   - Transient: a later attempt may succeed (timeouts, rate limits)
//   - Permanent: abort the step (generation failure, cancellation, bad config)
//   - Recoverable: feed the failure back to the model (bad parameters, unknown tool)
//   - Internal: bugs and broken infrastructure
//
// Create an error:
//
//	err := errors.New(errors.ErrCodeNotFound, "no tool named \"lookup\"")
//
// Wrap a collaborator failure:
//
//	return errors.WrapWithCode(err, errors.ErrCodeGeneration, "round 2")
//
// Tool failure kinds are derived from codes:
//
//	errors.ErrCodeInvalidParams.Kind() // "invalid_params"
//
// Errors marshal to JSON so they can be kept in step audit records.
package errors
