package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/extract"
	"github.com/vinayprograms/textcall/logging"
	"github.com/vinayprograms/textcall/telemetry"
)

// Executor runs agent steps. It holds configuration only and is safe for
// concurrent use.
type Executor struct {
	responder         Responder
	runner            ToolRunner
	extractor         *extract.Extractor
	threshold         float64
	maxIterations     int
	parallel          int
	malformedFeedback bool
	compactor         Compactor
	logger            *logging.Logger
	tracer            *telemetry.Tracer
	exporter          telemetry.Exporter
	display           func(string)
	newID             func() string
}

// New creates an Executor.
func New(responder Responder, runner ToolRunner, opts ...Option) *Executor {
	e := &Executor{
		responder:     responder,
		runner:        runner,
		extractor:     extract.New(),
		threshold:     extract.DefaultThreshold,
		maxIterations: DefaultMaxIterations,
		logger:        logging.Discard(),
		tracer:        telemetry.GetTracer(),
		exporter:      telemetry.NewNoopExporter(),
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxIterations returns the configured round cap.
func (e *Executor) MaxIterations() int {
	return e.maxIterations
}

// step carries per-call state through one RunStep.
type step struct {
	id    string
	state *LoopState
	resp  *Response
	log   *logging.Logger
}

// RunStep drives one request to a final response. The returned Response is
// never nil; on error it holds the history up to the failure. Generation
// failures return an ErrCodeGeneration error and cancellation returns
// ErrCodeCanceled. Tool failures are not errors.
func (e *Executor) RunStep(ctx context.Context, initial []Turn) (*Response, error) {
	start := time.Now()
	s := &step{
		id: e.newID(),
		state: &LoopState{
			History:       append([]Turn(nil), initial...),
			MaxIterations: e.maxIterations,
		},
	}
	s.resp = &Response{StepID: s.id}
	s.log = e.logger.WithTraceID(s.id)

	ctx, span := e.tracer.StartStepSpan(ctx, s.id, e.maxIterations)
	s.log.StepStart(s.id, len(initial), e.maxIterations)
	e.exporter.LogEvent(telemetry.EventStepStart, map[string]interface{}{
		"step":           s.id,
		"turns":          len(initial),
		"max_iterations": e.maxIterations,
	})

	err := e.loop(ctx, s)

	s.resp.History = s.state.History
	s.resp.Iterations = s.state.Iteration
	s.resp.Duration = time.Since(start)

	term := string(s.resp.Termination)
	s.log.StepComplete(s.id, s.resp.Duration, term, s.resp.Iterations)
	e.exporter.LogEvent(telemetry.EventStepComplete, map[string]interface{}{
		"step":        s.id,
		"termination": term,
		"rounds":      s.resp.Iterations,
		"generations": s.resp.Generations,
		"calls":       len(s.resp.Calls),
		"duration_ms": s.resp.Duration.Milliseconds(),
	})
	e.tracer.EndStepSpan(span, telemetry.StepSpanOptions{
		Termination: term,
		Rounds:      s.resp.Iterations,
		Generations: s.resp.Generations,
		Calls:       len(s.resp.Calls),
		Response:    s.resp.Text,
	}, err)

	return s.resp, err
}

func (e *Executor) loop(ctx context.Context, s *step) error {
	for {
		if err := ctx.Err(); err != nil {
			return e.cancel(s, err)
		}

		done, err := e.round(ctx, s)
		if err != nil || done {
			return err
		}
	}
}

// round runs one generate, extract and execute cycle. It reports whether the
// step is finished.
func (e *Executor) round(ctx context.Context, s *step) (bool, error) {
	index := s.state.Iteration + 1
	ctx, span := e.tracer.StartRoundSpan(ctx, index)
	s.log.RoundStart(s.id, index)

	// Generating
	text, err := e.generate(ctx, s)
	if err != nil {
		e.tracer.EndRoundSpan(span, telemetry.RoundSpanOptions{}, err)
		if ctx.Err() != nil {
			return true, e.cancel(s, ctx.Err())
		}
		s.resp.Termination = TerminationFailed
		s.log.GenerationFailed(s.id, index, err)
		return true, errors.Generation(err,
			errors.WithStepID(s.id),
			errors.WithMetadata("round", fmt.Sprint(index)),
		)
	}
	s.state.History = append(s.state.History, Assistant(text))

	// Extracting
	cands := e.extractor.Extract(text)
	accepted := extract.Accepted(cands, e.threshold)
	rejected := extract.Rejected(cands, e.threshold)
	malformed := extract.Malformed(cands)
	for _, c := range rejected {
		s.log.CandidateRejected(s.id, c.FunctionName, c.Confidence, e.threshold)
	}
	s.log.CandidatesFound(s.id, index, len(accepted), len(rejected), len(malformed))
	roundOpts := telemetry.RoundSpanOptions{
		Accepted:  len(accepted),
		Rejected:  len(rejected),
		Malformed: len(malformed),
	}
	e.exporter.LogEvent(telemetry.EventRound, map[string]interface{}{
		"step":      s.id,
		"round":     index,
		"accepted":  len(accepted),
		"rejected":  len(rejected),
		"malformed": len(malformed),
	})
	e.exporter.LogMessage(telemetry.Message{
		StepID:  s.id,
		Round:   index,
		Role:    string(RoleAssistant),
		Content: text,
		Calls:   functionNames(accepted),
	})

	visible := e.extractor.Strip(text, append(append([]extract.Candidate(nil), accepted...), malformed...), e.threshold)
	s.resp.Transcript = append(s.resp.Transcript, visible)

	if len(accepted) == 0 {
		if len(malformed) > 0 && e.malformedFeedback && s.state.Iteration < s.state.MaxIterations {
			start, end := e.extractor.Markers()
			s.state.History = append(s.state.History, Turn{
				Role:    RoleToolFeedback,
				Content: formatReformat(malformed, start, end),
			})
			s.state.Iteration++
			e.tracer.EndRoundSpan(span, roundOpts, nil)
			return false, nil
		}
		e.finish(s, text, visible, TerminationCompleted)
		e.tracer.EndRoundSpan(span, roundOpts, nil)
		return true, nil
	}

	if s.state.Iteration >= s.state.MaxIterations {
		e.finish(s, text, visible, TerminationMaxIterations)
		e.tracer.EndRoundSpan(span, roundOpts, nil)
		return true, nil
	}

	// Executing
	records, cancelErr := e.execute(ctx, s, index, accepted)
	for _, rec := range records {
		s.resp.Calls = append(s.resp.Calls, rec)
		if !rec.Skipped {
			s.state.History = append(s.state.History, feedbackTurn(rec.Function, rec.Result))
		}
	}
	e.tracer.EndRoundSpan(span, roundOpts, cancelErr)
	if cancelErr != nil {
		return true, e.cancel(s, cancelErr)
	}

	s.state.Iteration++
	return false, nil
}

func (e *Executor) generate(ctx context.Context, s *step) (string, error) {
	view := s.state.History
	if e.compactor != nil {
		compacted, err := e.compactor.Compact(ctx, append([]Turn(nil), view...))
		if err != nil {
			s.log.Warn("compaction_failed", map[string]interface{}{"error": err.Error()})
		} else {
			view = compacted
		}
	}
	s.resp.Generations++
	return e.responder.Generate(ctx, view)
}

func (e *Executor) finish(s *step, text, visible string, term Termination) {
	s.resp.Text = text
	s.resp.Visible = visible
	s.resp.Termination = term
	if e.display != nil {
		e.display(visible)
	}
}

func (e *Executor) cancel(s *step, cause error) error {
	s.resp.Termination = TerminationCanceled
	return errors.New(errors.ErrCodeCanceled, "step canceled",
		errors.WithCause(cause),
		errors.WithStepID(s.id),
	)
}

// execute runs the accepted calls of one round and returns their records in
// call order. Calls not yet started when ctx is canceled are marked skipped
// and the cancellation cause is returned.
func (e *Executor) execute(ctx context.Context, s *step, round int, calls []extract.Candidate) ([]CallRecord, error) {
	if e.parallel > 1 && len(calls) > 1 {
		return e.executeParallel(ctx, s, round, calls)
	}

	records := make([]CallRecord, 0, len(calls))
	for i, c := range calls {
		if err := ctx.Err(); err != nil {
			for _, rest := range calls[i:] {
				records = append(records, e.skip(s, round, rest))
			}
			return records, err
		}
		records = append(records, e.call(ctx, s, round, c))
	}
	return records, nil
}

func (e *Executor) executeParallel(ctx context.Context, s *step, round int, calls []extract.Candidate) ([]CallRecord, error) {
	records := make([]CallRecord, len(calls))
	if err := ctx.Err(); err != nil {
		for i, c := range calls {
			records[i] = e.skip(s, round, c)
		}
		return records, err
	}

	// Calls queued behind the limit recheck ctx once they get a slot.
	var g errgroup.Group
	g.SetLimit(e.parallel)
	for i, c := range calls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				records[i] = e.skip(s, round, c)
				return err
			}
			records[i] = e.call(ctx, s, round, c)
			return nil
		})
	}
	return records, g.Wait()
}

// call runs one tool to completion. Once started a call is not interrupted
// by step cancellation, so it is either recorded in full or never run.
func (e *Executor) call(ctx context.Context, s *step, round int, c extract.Candidate) CallRecord {
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.tracer.StartToolSpan(ctx, c.FunctionName)
	s.log.ToolCall(c.FunctionName, c.Parameters)

	start := time.Now()
	result := e.invoke(ctx, c)
	dur := time.Since(start)

	kind := ""
	if result.Status == StatusFailed {
		kind = result.ErrorKind
	}
	s.log.ToolResult(c.FunctionName, dur, kind)
	e.endToolSpan(span, c, result)
	e.exporter.LogEvent(telemetry.EventToolCall, map[string]interface{}{
		"step":        s.id,
		"round":       round,
		"tool":        c.FunctionName,
		"status":      string(result.Status),
		"error_kind":  kind,
		"duration_ms": dur.Milliseconds(),
	})

	return CallRecord{
		Round:      round,
		Function:   c.FunctionName,
		Params:     c.Parameters,
		Kind:       c.Kind,
		Confidence: c.Confidence,
		Result:     result,
		Duration:   dur,
	}
}

// invoke calls the runner and folds runner faults and panics into a failed
// result.
func (e *Executor) invoke(ctx context.Context, c extract.Candidate) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			perr := errors.RecoverPanic(r)
			result = Failed(errors.ErrCodeInfrastructure.Kind(), "tool panicked: "+perr.Error())
		}
	}()

	result, err := e.runner.Execute(ctx, c.FunctionName, c.Parameters)
	if err != nil {
		return Failed(errors.ErrCodeInfrastructure.Kind(), err.Error())
	}
	if result.Status != StatusFailed {
		result.Status = StatusOK
	}
	return result
}

func (e *Executor) endToolSpan(span trace.Span, c extract.Candidate, r ToolResult) {
	opts := telemetry.ToolSpanOptions{
		Tool:   c.FunctionName,
		Args:   c.Parameters,
		Result: r.Payload,
	}
	if r.Status == StatusFailed {
		opts.ErrorKind = r.ErrorKind
		opts.Result = r.ErrorDetail
	}
	e.tracer.EndToolSpan(span, opts, nil)
}

func (e *Executor) skip(s *step, round int, c extract.Candidate) CallRecord {
	s.log.ToolSkipped(s.id, c.FunctionName)
	e.exporter.LogEvent(telemetry.EventToolSkipped, map[string]interface{}{
		"step":  s.id,
		"round": round,
		"tool":  c.FunctionName,
	})
	return CallRecord{
		Round:      round,
		Function:   c.FunctionName,
		Params:     c.Parameters,
		Kind:       c.Kind,
		Confidence: c.Confidence,
		Result:     Failed(errors.ErrCodeCanceled.Kind(), "step canceled before the call started"),
		Skipped:    true,
	}
}

func functionNames(cands []extract.Candidate) []string {
	if len(cands) == 0 {
		return nil
	}
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.FunctionName
	}
	return names
}
