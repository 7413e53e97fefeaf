package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
	"github.com/vinayprograms/textcall/mcp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "textcall.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
[provider]
provider = "venice"
model = "llama-3.3-70b"
max_tokens = 2048
requests_per_minute = 20

[provider.retry]
max_retries = 2
init_backoff = "500ms"

[executor]
max_iterations = 0
threshold = 0.6
parallel_tools = 4
stream = true
persona = "You are Ada."

[extractor]
start_marker = "<<CALL>>"
end_marker = "<<END>>"
hedges = ["maybe"]

[memory]
core_path = "core.json"

[[memory.blocks]]
label = "facts"

[tools]
policy = "policy.toml"

[mcp]
connect_timeout = "5s"

[mcp.servers.fs]
command = "mcp-server-filesystem"
args = ["/tmp"]
deny_tools = ["write_file"]

[mcp.servers.fs.env]
DEBUG = "1"

[logging]
level = "debug"

[telemetry]
protocol = "file"
endpoint = "events.jsonl"
otlp_endpoint = "localhost:4317"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	if cfg.Provider.Provider != "venice" || cfg.Provider.MaxTokens != 2048 || cfg.Provider.RequestsPerMinute != 20 {
		t.Errorf("unexpected provider %+v", cfg.Provider)
	}
	if cfg.Provider.RetryConfig.MaxRetries != 2 || cfg.Provider.RetryConfig.InitBackoff != 500*time.Millisecond {
		t.Errorf("unexpected retry config %+v", cfg.Provider.RetryConfig)
	}
	if cfg.Executor.MaxIterations != 0 {
		t.Errorf("explicit max_iterations = 0 must be kept, got %d", cfg.Executor.MaxIterations)
	}
	if cfg.Executor.Threshold != 0.6 || cfg.Executor.ParallelTools != 4 || !cfg.Executor.Stream {
		t.Errorf("unexpected executor config %+v", cfg.Executor)
	}
	if cfg.Executor.Compact.MaxTurns != 24 {
		t.Errorf("unset compact keys should keep defaults, got %+v", cfg.Executor.Compact)
	}
	if cfg.Extractor.HedgePenalty != 0.3 || len(cfg.Extractor.Hedges) != 1 {
		t.Errorf("unexpected extractor config %+v", cfg.Extractor)
	}
	if !cfg.Memory.Enabled || len(cfg.Memory.Blocks) != 1 || cfg.Memory.Blocks[0].Limit != 2000 {
		t.Errorf("unexpected memory config %+v", cfg.Memory)
	}
	if cfg.Tools.Policy != "policy.toml" {
		t.Errorf("unexpected tools config %+v", cfg.Tools)
	}
	fs := cfg.MCP.Servers["fs"]
	if cfg.MCP.ConnectTimeout != 5*time.Second || fs.Command != "mcp-server-filesystem" ||
		len(fs.Args) != 1 || fs.Env["DEBUG"] != "1" || fs.DenyTools[0] != "write_file" {
		t.Errorf("unexpected mcp config %+v", cfg.MCP)
	}
	if cfg.Telemetry.OTLPProtocol != "grpc" || cfg.Telemetry.ServiceName != "textcall" {
		t.Errorf("unexpected telemetry config %+v", cfg.Telemetry)
	}
}

func TestLoad_InfersProvider(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[provider]\nmodel = \"claude-sonnet-4\"\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Provider.Provider != "anthropic" {
		t.Errorf("expected inferred anthropic, got %q", cfg.Provider.Provider)
	}
	if cfg.Executor.MaxIterations != executor.DefaultMaxIterations {
		t.Errorf("expected default max iterations, got %d", cfg.Executor.MaxIterations)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[provider\nmodel = 1"},
		{"unknown key", "[executor]\nmax_iteratons = 3\n"},
		{"api key in config", "[provider]\nmodel = \"gpt-4o\"\napi_key = \"sk-123\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, errors.ErrCodeConfig) {
				t.Errorf("expected CONFIG error, got %v", err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Provider.Provider = "openai"
		c.Provider.Model = "gpt-4o"
		return c
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no model", func(c *Config) { c.Provider.Model = "" }},
		{"no provider", func(c *Config) { c.Provider.Provider = "" }},
		{"negative rate limit", func(c *Config) { c.Provider.RequestsPerMinute = -1 }},
		{"negative iterations", func(c *Config) { c.Executor.MaxIterations = -1 }},
		{"threshold above one", func(c *Config) { c.Executor.Threshold = 1.5 }},
		{"compact window", func(c *Config) { c.Executor.Compact = CompactConfig{Enabled: true, MaxTurns: 4, KeepRecent: 4} }},
		{"same markers", func(c *Config) { c.Extractor.EndMarker = c.Extractor.StartMarker }},
		{"hedge penalty", func(c *Config) { c.Extractor.HedgePenalty = -0.1 }},
		{"duplicate block", func(c *Config) { c.Memory.Blocks = append(c.Memory.Blocks, c.Memory.Blocks[0]) }},
		{"unlabelled block", func(c *Config) { c.Memory.Blocks[0].Label = "" }},
		{"mcp command", func(c *Config) { c.MCP.Servers = map[string]mcp.ServerConfig{"fs": {}} }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"event protocol", func(c *Config) { c.Telemetry.Protocol = "kafka" }},
		{"file without endpoint", func(c *Config) { c.Telemetry.Protocol = "file" }},
		{"otlp protocol", func(c *Config) { c.Telemetry.OTLPProtocol = "udp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); !errors.Is(err, errors.ErrCodeConfig) {
				t.Errorf("expected CONFIG error, got %v", err)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := LoadOrDefault("")
	if err != nil || cfg.Executor.MaxIterations != executor.DefaultMaxIterations {
		t.Fatalf("expected defaults without a file, got %+v, %v", cfg, err)
	}

	os.WriteFile(DefaultPath, []byte("[provider]\nmodel = \"gpt-4o\"\n"), 0644)
	cfg, err = LoadOrDefault("")
	if err != nil || cfg.Provider.Provider != "openai" {
		t.Errorf("expected %s to be picked up, got %+v, %v", DefaultPath, cfg.Provider, err)
	}
}

func TestExtractorConfig_Build(t *testing.T) {
	c := Default().Extractor
	c.StartMarker, c.EndMarker = "<<CALL>>", "<<END>>"

	x := c.Build()
	if start, end := x.Markers(); start != "<<CALL>>" || end != "<<END>>" {
		t.Errorf("unexpected markers %s %s", start, end)
	}

	cands := x.Extract("<<CALL>>\n{\"function\": \"ping\", \"params\": {}}\n<<END>>")
	if len(cands) != 1 || cands[0].FunctionName != "ping" {
		t.Errorf("expected ping call with custom markers, got %+v", cands)
	}
}
