package executor

import (
	"github.com/vinayprograms/textcall/extract"
	"github.com/vinayprograms/textcall/logging"
	"github.com/vinayprograms/textcall/telemetry"
)

// DefaultMaxIterations caps execute-and-feedback rounds per step.
const DefaultMaxIterations = 5

// Option configures an Executor.
type Option func(*Executor)

// WithMaxIterations sets the round cap. Zero means the first generated text
// is always final. Negative values are treated as zero.
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n < 0 {
			n = 0
		}
		e.maxIterations = n
	}
}

// WithExtractor replaces the call extractor.
func WithExtractor(x *extract.Extractor) Option {
	return func(e *Executor) {
		if x != nil {
			e.extractor = x
		}
	}
}

// WithThreshold sets the minimum confidence for a call to run.
func WithThreshold(t float64) Option {
	return func(e *Executor) {
		e.threshold = t
	}
}

// WithParallelTools runs up to n accepted calls of a round at once. Feedback
// keeps the order the calls were written in. Values below 2 mean sequential.
func WithParallelTools(n int) Option {
	return func(e *Executor) {
		e.parallel = n
	}
}

// WithMalformedFeedback makes a turn whose only calls are unparseable ask
// the model to reformat instead of ending the step. The request counts as a
// round.
func WithMalformedFeedback(enabled bool) Option {
	return func(e *Executor) {
		e.malformedFeedback = enabled
	}
}

// WithCompactor sets a compactor for the history view sent to the Responder.
func WithCompactor(c Compactor) Option {
	return func(e *Executor) {
		e.compactor = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l.WithComponent("executor")
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithExporter sets the step event exporter.
func WithExporter(x telemetry.Exporter) Option {
	return func(e *Executor) {
		if x != nil {
			e.exporter = x
		}
	}
}

// WithDisplay registers a callback that receives the final user-visible
// text once per step, after all tool calls have run.
func WithDisplay(fn func(text string)) Option {
	return func(e *Executor) {
		e.display = fn
	}
}

// WithStepIDs overrides step ID generation.
func WithStepIDs(fn func() string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.newID = fn
		}
	}
}
