// Package shutdown releases process resources in phases when a run ends or
// the process is signalled.
//
// Lower phases run first; handlers within a phase run concurrently:
//
//	coord := shutdown.New(shutdown.DefaultTimeout, logger)
//	ctx = coord.HandleSignals(ctx)      // SIGINT/SIGTERM cancel ctx
//	coord.Register("archive", shutdown.PhaseClose, archive.Close)
//	coord.Register("events", shutdown.PhaseFlush, exporter.Flush)
//	defer coord.Shutdown()
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/logging"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 10 * time.Second

// Phases used by the CLI.
const (
	PhaseFlush = 10 // flush buffered telemetry and events
	PhaseClose = 20 // close stores and tracer providers
)

// Func releases one resource.
type Func func(ctx context.Context) error

// Close adapts a plain Close or Flush method to Func.
func Close(fn func() error) Func {
	return func(context.Context) error { return fn() }
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

type registration struct {
	name  string
	phase int
	fn    Func
}

// Coordinator runs registered handlers once, in phase order.
type Coordinator struct {
	timeout time.Duration
	logger  *logging.Logger

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	results  []HandlerResult
	err      error
	done     chan struct{}
}

// New creates a coordinator. A non-positive timeout means DefaultTimeout.
func New(timeout time.Duration, logger *logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		timeout: timeout,
		logger:  logger.WithComponent("shutdown"),
		done:    make(chan struct{}),
	}
}

// Register adds a handler. Registering after Shutdown has no effect.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, fn: fn})
}

// HandleSignals returns a context canceled on SIGINT or SIGTERM. A second
// signal exits the process immediately.
func (c *Coordinator) HandleSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			c.logger.Warn("interrupted, stopping", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-c.done:
			signal.Stop(sigs)
			cancel()
			return
		}
		select {
		case <-sigs:
			os.Exit(130)
		case <-c.done:
			signal.Stop(sigs)
		}
	}()
	return ctx
}

// Shutdown runs all handlers within the timeout and returns their joined
// errors. Later calls return the first result.
func (c *Coordinator) Shutdown() error {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.err = c.run(ctx)
		close(c.done)
	})
	return c.err
}

// Done is closed once Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Results returns per-handler outcomes in execution order.
func (c *Coordinator) Results() []HandlerResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HandlerResult(nil), c.results...)
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var errs []error
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, errors.Wrap(err, "shutdown did not finish"))
			break
		}

		phase := make([]HandlerResult, end-start)
		var g errgroup.Group
		for i, h := range handlers[start:end] {
			g.Go(func() error {
				began := time.Now()
				err := h.fn(ctx)
				phase[i] = HandlerResult{Name: h.name, Phase: h.phase, Duration: time.Since(began), Err: err}
				return nil
			})
		}
		g.Wait()

		for _, r := range phase {
			if r.Err != nil {
				c.logger.Error("shutdown handler failed", map[string]interface{}{"handler": r.Name, "error": r.Err.Error()})
				errs = append(errs, errors.Wrapf(r.Err, "%s", r.Name))
			} else {
				c.logger.Debug("shutdown handler done", map[string]interface{}{"handler": r.Name, "duration": r.Duration.String()})
			}
		}

		c.mu.Lock()
		c.results = append(c.results, phase...)
		c.mu.Unlock()
		start = end
	}
	return errors.Join(errs...)
}
