// Package executor drives the generate, extract, execute and feedback loop
// for one agent step.
//
// An Executor is built from two collaborators. A Responder turns the
// conversation history into the next assistant text. A ToolRunner performs
// the side effect a call names and reports a ToolResult. Between them the
// executor runs the extract package over each generated turn:
//
//	Generating -> Extracting -> Executing -> Generating ...
//	                         \-> Done
//
// Accepted calls run exactly once each, in the order the model wrote them,
// and each result goes back into the history as a ToolFeedback turn. Failed
// tools do not stop the loop; the model is told what went wrong and invited
// to try again. A step ends when a turn carries no accepted call, when the
// iteration cap is reached, when the Responder fails, or when the caller
// cancels.
//
// Every RunStep owns its loop state, so one Executor can serve concurrent
// steps.
//
//	exec := executor.New(responder, registry,
//		executor.WithMaxIterations(5),
//		executor.WithLogger(logger),
//	)
//	resp, err := exec.RunStep(ctx, []executor.Turn{executor.User("remember I like pizza")})
//	fmt.Println(resp.Visible)
package executor
