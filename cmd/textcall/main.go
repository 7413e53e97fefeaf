// Command textcall runs one agent step: it sends a message to the configured
// model, executes the tool calls the model writes as text, and prints the
// final answer.
//
//	textcall [-config textcall.toml] [-v] "message"
//	echo "message" | textcall
//	textcall -acp
//
// With -acp it serves the Agent Client Protocol on stdin and stdout instead,
// running one step per prompt.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/textcall/acp"
	"github.com/vinayprograms/textcall/config"
	"github.com/vinayprograms/textcall/credentials"
	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
	"github.com/vinayprograms/textcall/llm"
	"github.com/vinayprograms/textcall/logging"
	"github.com/vinayprograms/textcall/mcp"
	"github.com/vinayprograms/textcall/memory"
	"github.com/vinayprograms/textcall/policy"
	"github.com/vinayprograms/textcall/prompt"
	"github.com/vinayprograms/textcall/ratelimit"
	"github.com/vinayprograms/textcall/shutdown"
	"github.com/vinayprograms/textcall/telemetry"
	"github.com/vinayprograms/textcall/tools"
)

// version is reported to ACP clients.
const version = "0.1.0"

// Exit codes.
const (
	exitOK         = 0
	exitGeneration = 1
	exitUsage      = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("textcall", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to textcall.toml (default ./textcall.toml if present)")
	verbose := flags.Bool("v", false, "debug logging")
	serveACP := flags.Bool("acp", false, "serve the Agent Client Protocol on stdin/stdout")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	logger := logging.New()
	logger.SetOutput(stderr)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "textcall: %v\n", err)
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "textcall: %v\n", err)
		return exitUsage
	}
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	if *verbose {
		level = logging.LevelDebug
	}
	logger.SetLevel(level)

	coord := shutdown.New(shutdown.DefaultTimeout, logger)
	defer coord.Shutdown()
	ctx := coord.HandleSignals(context.Background())

	if *serveACP {
		srv := acp.NewServer(stdin, stdout, acp.AgentInfo{Name: "textcall", Version: version}, logger)
		app, err := setup(ctx, cfg, logger, coord, srv.Tools)
		if err != nil {
			fmt.Fprintf(stderr, "textcall: %v\n", err)
			return exitUsage
		}
		if err := srv.Run(ctx, app); err != nil {
			fmt.Fprintf(stderr, "textcall: %v\n", err)
			return exitGeneration
		}
		return exitOK
	}

	message, err := readMessage(flags.Args(), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "textcall: %v\n", err)
		return exitUsage
	}

	app, err := setup(ctx, cfg, logger, coord, nil)
	if err != nil {
		fmt.Fprintf(stderr, "textcall: %v\n", err)
		return exitUsage
	}

	resp, err := app.RunStep(ctx, []executor.Turn{executor.User(message)})
	if err != nil {
		fmt.Fprintf(stderr, "textcall: %v\n", err)
		return exitGeneration
	}
	fmt.Fprintln(stdout, resp.Visible)
	return exitOK
}

// readMessage joins the positional arguments, or reads stdin when there
// are none.
func readMessage(args []string, stdin io.Reader) (string, error) {
	msg := strings.Join(args, " ")
	if msg == "" && stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		msg = string(data)
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", errors.InvalidParams("no message given (pass it as arguments or on stdin)")
	}
	return msg, nil
}

// setup builds the executor and registers everything that needs closing.
// wrap, when set, decorates the tool runner.
func setup(ctx context.Context, cfg *config.Config, logger *logging.Logger, coord *shutdown.Coordinator, wrap func(executor.ToolRunner) executor.ToolRunner) (*executor.Executor, error) {
	if found, err := credentials.LoadEnvFile(credentials.EnvFileName); err != nil {
		return nil, err
	} else if found {
		logger.Debug("environment loaded", map[string]interface{}{"file": credentials.EnvFileName})
	}
	creds, credPath, err := credentials.Load()
	if err != nil {
		return nil, err
	}
	key, source := creds.Lookup(cfg.Provider.Provider)
	cfg.Provider.APIKey = key
	logger.Debug("credentials resolved", map[string]interface{}{"file": credPath, "source": source})

	tracer, err := setupTracing(ctx, cfg.Telemetry, coord)
	if err != nil {
		return nil, err
	}
	exporter, err := telemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "telemetry exporter")
	}
	coord.Register("events", shutdown.PhaseFlush, shutdown.Close(exporter.Flush))
	coord.Register("events-close", shutdown.PhaseClose, shutdown.Close(exporter.Close))

	base, err := llm.NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	probeCapabilities(ctx, base, cfg.Provider, logger)
	provider := base
	if rpm := cfg.Provider.RequestsPerMinute; rpm > 0 {
		limiter := ratelimit.NewLimiter()
		limiter.SetCapacity(cfg.Provider.Provider, rpm, time.Minute)
		coord.Register("ratelimit", shutdown.PhaseClose, shutdown.Close(limiter.Close))
		provider = llm.WithRateLimit(provider, limiter, cfg.Provider.Provider)
	}
	provider = llm.WithTracing(provider, cfg.Provider.Provider, tracer)

	registry := tools.NewRegistry()
	registry.SetLogger(logger)
	if cfg.Tools.Policy != "" {
		pol, err := policy.LoadFile(cfg.Tools.Policy)
		if err != nil {
			return nil, err
		}
		registry.SetPolicy(pol)
	}
	var coreText string
	if cfg.Memory.Enabled {
		core, archive, err := openMemory(cfg.Memory, coord)
		if err != nil {
			return nil, err
		}
		if err := registry.SetMemory(core, archive); err != nil {
			return nil, err
		}
		coreText = core.Render()
	}
	if len(cfg.MCP.Servers) > 0 {
		manager, err := connectMCP(ctx, cfg.MCP, coord)
		if err != nil {
			return nil, err
		}
		if err := registry.SetMCP(manager); err != nil {
			return nil, err
		}
	}

	system, err := prompt.Build(prompt.Options{
		Persona:     cfg.Executor.Persona,
		StartMarker: cfg.Extractor.StartMarker,
		EndMarker:   cfg.Extractor.EndMarker,
		Tools:       registry.Definitions(),
		CoreMemory:  coreText,
	})
	if err != nil {
		return nil, err
	}

	responder := llm.NewResponder(provider,
		llm.WithSystemPrompt(system),
		llm.WithMaxTokens(cfg.Provider.MaxTokens),
		llm.WithResponderLogger(logger),
	)
	var gen executor.Responder = responder
	if cfg.Executor.Stream {
		gen = executor.Buffered(responder)
	}

	opts := []executor.Option{
		executor.WithMaxIterations(cfg.Executor.MaxIterations),
		executor.WithExtractor(cfg.Extractor.Build()),
		executor.WithThreshold(cfg.Executor.Threshold),
		executor.WithParallelTools(cfg.Executor.ParallelTools),
		executor.WithMalformedFeedback(cfg.Executor.MalformedFeedback),
		executor.WithLogger(logger),
		executor.WithTracer(tracer),
		executor.WithExporter(exporter),
	}
	if c := cfg.Executor.Compact; c.Enabled {
		opts = append(opts, executor.WithCompactor(llm.NewSummaryCompactor(provider, c.MaxTurns, c.KeepRecent)))
	}
	var runner executor.ToolRunner = registry
	if wrap != nil {
		runner = wrap(runner)
	}
	return executor.New(gen, runner, opts...), nil
}

// setupTracing starts OTLP export when an endpoint is configured. Without
// one the returned tracer is nil and the global no-op tracer is used.
func setupTracing(ctx context.Context, cfg config.TelemetryConfig, coord *shutdown.Coordinator) (*telemetry.Tracer, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}
	tp, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Insecure:       cfg.Insecure,
		Headers:        cfg.OTLPHeaders,
		Debug:          cfg.Debug,
		SampleRatio:    cfg.SampleRatio,
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "tracing")
	}
	coord.Register("tracing", shutdown.PhaseClose, tp.Shutdown)
	return tp.Tracer(), nil
}

// probeCapabilities reports whether an OpenAI-compatible model also offers
// native function calling. Calls are parsed from text either way.
func probeCapabilities(ctx context.Context, p llm.Provider, cfg llm.ProviderConfig, logger *logging.Logger) {
	compat, ok := p.(*llm.OpenAICompatProvider)
	if !ok {
		return
	}
	info, found, err := llm.NewCapabilityCache(nil).Lookup(ctx, compat.BaseURL(), cfg.APIKey, compat.Model())
	fields := map[string]interface{}{"model": compat.Model(), "base_url": compat.BaseURL()}
	switch {
	case err != nil:
		fields["error"] = err.Error()
		logger.Warn("model capability probe failed", fields)
	case !found:
		logger.Warn("model not listed by provider", fields)
	default:
		fields["native_tools"] = info.NativeTools
		fields["context_tokens"] = info.ContextTokens
		logger.Info("model capabilities", fields)
	}
}

// connectMCP starts the configured MCP servers. A server that fails to
// start fails the run.
func connectMCP(ctx context.Context, cfg config.MCPConfig, coord *shutdown.Coordinator) (*mcp.Manager, error) {
	manager := mcp.NewManager()
	coord.Register("mcp", shutdown.PhaseClose, shutdown.Close(manager.Close))

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := manager.Connect(ctx, name, cfg.Servers[name]); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// openMemory opens core memory and the archive, seeding core memory with
// the configured blocks when no saved state exists.
func openMemory(cfg config.MemoryConfig, coord *shutdown.Coordinator) (*memory.Core, *memory.Archive, error) {
	var core *memory.Core
	if cfg.CorePath != "" {
		c, err := memory.LoadCore(cfg.CorePath, cfg.Blocks...)
		if err != nil {
			return nil, nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "core memory")
		}
		core = c
	} else {
		core = memory.NewCore(cfg.Blocks...)
	}

	archive, err := memory.OpenArchive(memory.ArchiveConfig{Path: cfg.ArchivePath})
	if err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "archival memory")
	}
	coord.Register("archive", shutdown.PhaseClose, shutdown.Close(archive.Close))
	return core, archive, nil
}
