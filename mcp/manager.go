package mcp

import (
	"context"
	"sort"
	"sync"

	"github.com/vinayprograms/textcall/errors"
)

// Manager manages connections to several MCP servers.
type Manager struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	deniedTools map[string]map[string]bool // server -> tool -> denied
}

// ToolWithServer pairs a tool with its server name.
type ToolWithServer struct {
	Server string
	Tool   Tool
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		clients:     make(map[string]*Client),
		deniedTools: make(map[string]map[string]bool),
	}
}

// Connect launches a server and adds it under name.
func (m *Manager) Connect(ctx context.Context, name string, cfg ServerConfig) error {
	client, err := Start(cfg)
	if err != nil {
		return errors.Wrapf(err, "mcp server %s", name)
	}
	if len(cfg.DenyTools) > 0 {
		m.SetDeniedTools(name, cfg.DenyTools)
	}
	return m.Add(ctx, name, client)
}

// Add initializes client, fetches its tools and adds it under name. The
// client is closed if any step fails.
func (m *Manager) Add(ctx context.Context, name string, client *Client) error {
	m.mu.RLock()
	_, exists := m.clients[name]
	m.mu.RUnlock()
	if exists {
		client.Close()
		return errors.Newf(errors.ErrCodeConfig, "mcp server %q already connected", name)
	}

	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return errors.Wrapf(err, "mcp server %s", name)
	}
	if _, err := client.ListTools(ctx); err != nil {
		client.Close()
		return errors.Wrapf(err, "mcp server %s: list tools", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[name] = client
	return nil
}

// SetDeniedTools hides tools of a server. Denied tools are not returned by
// AllTools or FindTool.
func (m *Manager) SetDeniedTools(server string, tools []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	denied := make(map[string]bool, len(tools))
	for _, t := range tools {
		denied[t] = true
	}
	m.deniedTools[server] = denied
}

// AllTools returns the allowed tools of every server, ordered by server
// and tool name.
func (m *Manager) AllTools() []ToolWithServer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []ToolWithServer
	for _, server := range m.sortedServers() {
		denied := m.deniedTools[server]
		for _, tool := range m.clients[server].Tools() {
			if denied[tool.Name] {
				continue
			}
			tools = append(tools, ToolWithServer{Server: server, Tool: tool})
		}
	}
	sort.SliceStable(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Tool.Name < tools[j].Tool.Name
	})
	return tools
}

// FindTool returns the first server, by name, offering an allowed tool.
func (m *Manager) FindTool(name string) (server string, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, srv := range m.sortedServers() {
		if m.deniedTools[srv][name] {
			continue
		}
		for _, tool := range m.clients[srv].Tools() {
			if tool.Name == name {
				return srv, true
			}
		}
	}
	return "", false
}

// CallTool calls a tool on a server.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*ToolCallResult, error) {
	m.mu.RLock()
	client, ok := m.clients[server]
	denied := m.deniedTools[server][tool]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "mcp server %q not connected", server)
	}
	if denied {
		return nil, errors.Newf(errors.ErrCodePermission, "tool %q of mcp server %q is denied", tool, server)
	}
	return client.CallTool(ctx, tool, args)
}

// Disconnect closes one server.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	delete(m.clients, name)
	m.mu.Unlock()
	if !ok {
		return errors.Newf(errors.ErrCodeNotFound, "mcp server %q not connected", name)
	}
	return client.Close()
}

// Close disconnects every server and returns their joined errors.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var errs []error
	for name, client := range clients {
		if err := client.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "mcp server %s", name))
		}
	}
	return errors.Join(errs...)
}

// Servers returns the connected server names, sorted.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedServers()
}

// sortedServers must be called with m.mu held.
func (m *Manager) sortedServers() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
