// Package telemetry exports agent step events and OpenTelemetry spans.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Exporter is the interface for telemetry exporters.
type Exporter interface {
	// LogEvent logs an event with the given name and data.
	LogEvent(name string, data map[string]interface{})
	// LogMessage logs an LLM message.
	LogMessage(msg Message)
	// Flush sends any buffered data.
	Flush() error
	// Close closes the exporter.
	Close() error
}

// Message represents one conversation turn for telemetry.
type Message struct {
	StepID    string                 `json:"step_id"`
	Round     int                    `json:"round"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Calls     []string               `json:"calls,omitempty"`
	Tokens    TokenCount             `json:"tokens"`
	Latency   time.Duration          `json:"latency"`
	Model     string                 `json:"model,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// TokenCount represents token usage.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Step event names emitted by the executor.
const (
	EventStepStart    = "step_start"
	EventRound        = "round"
	EventToolCall     = "tool_call"
	EventToolSkipped  = "tool_skipped"
	EventStepComplete = "step_complete"
)

// Event represents a telemetry event.
type Event struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewExporter creates a new exporter based on protocol.
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "memory":
		return NewMemoryExporter(), nil
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", protocol)
	}
}

// --- HTTP Exporter ---

// HTTPExporter sends telemetry to an HTTP endpoint.
type HTTPExporter struct {
	endpoint string
	client   *http.Client
	buffer   []interface{}
	mu       sync.Mutex
}

// httpBatchSize is the number of buffered records that triggers a send.
const httpBatchSize = 100

// NewHTTPExporter creates a new HTTP exporter.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		buffer: make([]interface{}, 0, httpBatchSize),
	}
}

// LogEvent buffers an event, sending the batch when it is full.
func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	})
	if len(e.buffer) >= httpBatchSize {
		e.flush()
	}
}

func (e *HTTPExporter) LogMessage(msg Message) {
	msg.Timestamp = time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, msg)
	if len(e.buffer) >= httpBatchSize {
		e.flush()
	}
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *HTTPExporter) flush() error {
	if len(e.buffer) == 0 {
		return nil
	}

	data, err := json.Marshal(e.buffer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", e.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}

	e.buffer = e.buffer[:0]
	return nil
}

// --- Memory Exporter ---

// MemoryExporter keeps records in memory. Useful for tests and for callers
// that attach step events to their own audit log.
type MemoryExporter struct {
	mu       sync.Mutex
	events   []Event
	messages []Message
}

// NewMemoryExporter creates an empty memory exporter.
func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{}
}

func (e *MemoryExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Event{Name: name, Timestamp: time.Now(), Data: data})
}

func (e *MemoryExporter) LogMessage(msg Message) {
	msg.Timestamp = time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
}

// Events returns a copy of the recorded events.
func (e *MemoryExporter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// EventsNamed returns the recorded events with the given name.
func (e *MemoryExporter) EventsNamed(name string) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Messages returns a copy of the recorded messages.
func (e *MemoryExporter) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message(nil), e.messages...)
}

func (e *MemoryExporter) Flush() error { return nil }
func (e *MemoryExporter) Close() error { return nil }

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter writes telemetry to a file.
type FileExporter struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileExporter creates a new file exporter.
func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	return &FileExporter{file: file}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	event := Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	}
	e.write(event)
}

func (e *FileExporter) LogMessage(msg Message) {
	msg.Timestamp = time.Now()
	e.write(msg)
}

func (e *FileExporter) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(data)
	e.file.Write([]byte("\n"))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards all telemetry.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(name string, data map[string]interface{}) {}
func (e *NoopExporter) LogMessage(msg Message)                            {}
func (e *NoopExporter) Flush() error                                      { return nil }
func (e *NoopExporter) Close() error                                      { return nil }
