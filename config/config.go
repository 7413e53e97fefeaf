// Package config loads textcall.toml.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
	"github.com/vinayprograms/textcall/extract"
	"github.com/vinayprograms/textcall/llm"
	"github.com/vinayprograms/textcall/logging"
	"github.com/vinayprograms/textcall/mcp"
	"github.com/vinayprograms/textcall/memory"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "textcall.toml"

// DefaultMaxTokens is the per-turn output limit when none is configured.
const DefaultMaxTokens = 4096

// DefaultMCPConnectTimeout bounds MCP server startup.
const DefaultMCPConnectTimeout = 30 * time.Second

// Config is the full textcall configuration.
type Config struct {
	Provider  llm.ProviderConfig `toml:"provider"`
	Executor  ExecutorConfig     `toml:"executor"`
	Extractor ExtractorConfig    `toml:"extractor"`
	Memory    MemoryConfig       `toml:"memory"`
	Tools     ToolsConfig        `toml:"tools"`
	MCP       MCPConfig          `toml:"mcp"`
	Logging   LoggingConfig      `toml:"logging"`
	Telemetry TelemetryConfig    `toml:"telemetry"`
}

// ExecutorConfig configures the step loop.
type ExecutorConfig struct {
	MaxIterations     int     `toml:"max_iterations"`
	Threshold         float64 `toml:"threshold"`
	ParallelTools     int     `toml:"parallel_tools"`
	MalformedFeedback bool    `toml:"malformed_feedback"`
	// Stream generates through the provider's streaming API. Output is
	// still shown only once the step's calls have run.
	Stream  bool          `toml:"stream"`
	Persona string        `toml:"persona"`
	Compact CompactConfig `toml:"compact"`
}

// CompactConfig enables summarising old turns before generation.
type CompactConfig struct {
	Enabled    bool `toml:"enabled"`
	MaxTurns   int  `toml:"max_turns"`
	KeepRecent int  `toml:"keep_recent"`
}

// ExtractorConfig configures call recognition.
type ExtractorConfig struct {
	StartMarker  string   `toml:"start_marker"`
	EndMarker    string   `toml:"end_marker"`
	Hedges       []string `toml:"hedges"`
	HedgePenalty float64  `toml:"hedge_penalty"`
}

// MemoryConfig configures the memory tools. Empty paths keep memory in
// process only.
type MemoryConfig struct {
	Enabled     bool           `toml:"enabled"`
	CorePath    string         `toml:"core_path"`
	ArchivePath string         `toml:"archive_path"`
	Blocks      []memory.Block `toml:"blocks"`
}

// ToolsConfig configures tool access.
type ToolsConfig struct {
	// Policy is the path of a policy.toml. Empty allows every tool.
	Policy string `toml:"policy"`
}

// MCPConfig lists MCP servers whose tools are offered to the model.
type MCPConfig struct {
	// ConnectTimeout bounds starting every server and listing its tools.
	ConnectTimeout time.Duration               `toml:"connect_timeout"`
	Servers        map[string]mcp.ServerConfig `toml:"servers"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures step events and tracing.
type TelemetryConfig struct {
	// Protocol and Endpoint select the step event exporter: file, http or noop.
	Protocol string `toml:"protocol"`
	Endpoint string `toml:"endpoint"`

	// OTLP tracing. Tracing is off when OTLPEndpoint is empty.
	OTLPEndpoint string            `toml:"otlp_endpoint"`
	OTLPProtocol string            `toml:"otlp_protocol"` // grpc or http
	OTLPHeaders  map[string]string `toml:"otlp_headers"`
	Insecure     bool              `toml:"insecure"`
	Debug        bool              `toml:"debug"`
	ServiceName  string            `toml:"service_name"`
	SampleRatio  float64           `toml:"sample_ratio"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Provider: llm.ProviderConfig{MaxTokens: DefaultMaxTokens},
		Executor: ExecutorConfig{
			MaxIterations: executor.DefaultMaxIterations,
			Threshold:     extract.DefaultThreshold,
			Compact: CompactConfig{
				MaxTurns:   24,
				KeepRecent: 8,
			},
		},
		Extractor: ExtractorConfig{
			StartMarker:  extract.DefaultStartMarker,
			EndMarker:    extract.DefaultEndMarker,
			HedgePenalty: extract.DefaultHedgePenalty,
		},
		Memory: MemoryConfig{
			Enabled: true,
			Blocks: []memory.Block{
				{Label: "persona", Limit: memory.DefaultBlockLimit},
				{Label: "human", Limit: memory.DefaultBlockLimit},
			},
		},
		MCP:     MCPConfig{ConnectTimeout: DefaultMCPConnectTimeout},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol:     "noop",
			OTLPProtocol: "grpc",
			ServiceName:  "textcall",
		},
	}
}

// Load reads a config file over the defaults. Keys the file leaves out
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, fmt.Sprintf("failed to parse %s", path))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf(errors.ErrCodeConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadOrDefault loads path, or DefaultPath when path is empty. A missing
// default file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(DefaultPath)
}

// ApplyDefaults fills values a file set to empty.
func (c *Config) ApplyDefaults() {
	if c.Provider.Provider == "" && c.Provider.Model != "" {
		c.Provider.Provider = llm.InferProviderFromModel(c.Provider.Model)
	}
	if c.Provider.MaxTokens <= 0 {
		c.Provider.MaxTokens = DefaultMaxTokens
	}
	if c.Extractor.StartMarker == "" || c.Extractor.EndMarker == "" {
		c.Extractor.StartMarker = extract.DefaultStartMarker
		c.Extractor.EndMarker = extract.DefaultEndMarker
	}
	if c.MCP.ConnectTimeout <= 0 {
		c.MCP.ConnectTimeout = DefaultMCPConnectTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = "noop"
	}
	if c.Telemetry.OTLPProtocol == "" {
		c.Telemetry.OTLPProtocol = "grpc"
	}
	for i := range c.Memory.Blocks {
		if c.Memory.Blocks[i].Limit <= 0 {
			c.Memory.Blocks[i].Limit = memory.DefaultBlockLimit
		}
	}
}

// Validate checks the configuration. The API key is not checked here; it
// comes from credentials.
func (c *Config) Validate() error {
	if c.Provider.Model == "" {
		return errors.Config("provider.model is required")
	}
	if c.Provider.Provider == "" {
		return errors.Config("provider.provider is required (could not infer it from the model name)")
	}
	if c.Provider.RequestsPerMinute < 0 {
		return errors.Config("provider.requests_per_minute must not be negative")
	}
	if c.Executor.MaxIterations < 0 {
		return errors.Config("executor.max_iterations must not be negative")
	}
	if c.Executor.Threshold < 0 || c.Executor.Threshold > 1 {
		return errors.Newf(errors.ErrCodeConfig, "executor.threshold must be between 0 and 1, got %g", c.Executor.Threshold)
	}
	if c.Executor.Compact.Enabled && c.Executor.Compact.MaxTurns <= c.Executor.Compact.KeepRecent {
		return errors.Config("executor.compact.max_turns must exceed keep_recent")
	}
	if c.Extractor.StartMarker == c.Extractor.EndMarker {
		return errors.Config("extractor.start_marker and end_marker must differ")
	}
	if c.Extractor.HedgePenalty < 0 || c.Extractor.HedgePenalty > 1 {
		return errors.Newf(errors.ErrCodeConfig, "extractor.hedge_penalty must be between 0 and 1, got %g", c.Extractor.HedgePenalty)
	}
	seen := make(map[string]bool)
	for _, b := range c.Memory.Blocks {
		if b.Label == "" {
			return errors.Config("memory.blocks: label is required")
		}
		if seen[b.Label] {
			return errors.Newf(errors.ErrCodeConfig, "memory.blocks: duplicate label %q", b.Label)
		}
		seen[b.Label] = true
	}
	for name, srv := range c.MCP.Servers {
		if srv.Command == "" {
			return errors.Newf(errors.ErrCodeConfig, "mcp.servers.%s.command is required", name)
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeConfig, "logging.level")
	}
	switch c.Telemetry.Protocol {
	case "noop", "file", "http", "memory":
	default:
		return errors.Newf(errors.ErrCodeConfig, "telemetry.protocol: unknown protocol %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.Protocol != "noop" && c.Telemetry.Protocol != "memory" && c.Telemetry.Endpoint == "" {
		return errors.Newf(errors.ErrCodeConfig, "telemetry.endpoint is required for protocol %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.OTLPProtocol != "grpc" && c.Telemetry.OTLPProtocol != "http" {
		return errors.Newf(errors.ErrCodeConfig, "telemetry.otlp_protocol must be grpc or http, got %q", c.Telemetry.OTLPProtocol)
	}
	return nil
}

// Build creates the extractor this section describes. Nil hedges keep the
// default discussion markers.
func (c ExtractorConfig) Build() *extract.Extractor {
	opts := []extract.Option{
		extract.WithMarkers(c.StartMarker, c.EndMarker),
		extract.WithHedgePenalty(c.HedgePenalty),
	}
	if c.Hedges != nil {
		opts = append(opts, extract.WithHedges(c.Hedges...))
	}
	return extract.New(opts...)
}
