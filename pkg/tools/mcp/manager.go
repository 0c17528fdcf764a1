package mcp

import (
	"context"
	"sort"
	"sync"

	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Dialer builds a connection for a servers file entry.
type Dialer func(name string, cfg settings.ServerConfig) (ServerConnection, error)

func DefaultDialer(name string, cfg settings.ServerConfig) (ServerConnection, error) {
	return NewConnection(name, cfg)
}

type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ServerInfo struct {
	Transport string     `json:"transport"`
	Tools     []ToolInfo `json:"tools"`
}

// Manager owns the tool server connections and keeps the tool registry in sync with them.
type Manager struct {
	registry    *tools.Registry
	dial        Dialer
	concurrency int

	mu    sync.RWMutex
	conns map[string]ServerConnection
}

type ManagerOption func(*Manager)

func WithDialer(dial Dialer) ManagerOption {
	return func(m *Manager) {
		m.dial = dial
	}
}

func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func NewManager(registry *tools.Registry, options ...ManagerOption) *Manager {
	ret := &Manager{
		registry:    registry,
		dial:        DefaultDialer,
		concurrency: 4,
		conns:       map[string]ServerConnection{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (m *Manager) Registry() *tools.Registry {
	return m.registry
}

// ConnectAll connects the given servers concurrently. A server that fails to
// connect is logged and left out. Only a cancelled ctx is reported as an error.
//
// SSE sessions stream for as long as ctx lives, so ctx must outlive the
// connections. They end with Close or when ctx is done. Connecting a server
// name again replaces its previous connection.
func (m *Manager) ConnectAll(ctx context.Context, servers map[string]settings.ServerConfig) error {
	type connected struct {
		conn ServerConnection
		defs []tools.Definition
	}

	names := settings.ServerNames(servers)
	results := make([]*connected, len(names))

	// errgroup.WithContext would cancel the session contexts once Wait returns
	var eg errgroup.Group
	eg.SetLimit(m.concurrency)
	for i, name := range names {
		i, name := i, name
		eg.Go(func() error {
			conn, err := m.dial(name, servers[name])
			if err != nil {
				log.Error().Err(err).Str("server", name).Msg("Invalid server configuration")
				return nil
			}
			defs, err := conn.Connect(ctx)
			if err != nil {
				log.Error().Err(err).Str("server", name).Msg("Failed to connect to server")
				_ = conn.Close()
				return nil
			}
			results[i] = &connected{conn: conn, defs: defs}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		for _, r := range results {
			if r != nil {
				_ = r.conn.Close()
			}
		}
		return err
	}

	// registration happens in name order so "last one wins" is deterministic
	connected_ := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		m.add(r.conn, r.defs)
		connected_++
	}
	log.Info().
		Int("configured", len(names)).
		Int("connected", connected_).
		Int("tools", m.registry.Count()).
		Msg("Connected tool servers")
	return nil
}

func (m *Manager) add(conn ServerConnection, defs []tools.Definition) {
	m.mu.Lock()
	if previous, ok := m.conns[conn.Name()]; ok {
		_ = previous.Close()
		m.registry.Unregister(conn.Name())
	}
	m.conns[conn.Name()] = conn
	m.mu.Unlock()

	for _, d := range defs {
		if err := m.registry.Register(conn.Name(), d, conn); err != nil {
			log.Warn().Err(err).Str("server", conn.Name()).Msg("Skipping tool")
		}
	}
}

// Servers summarizes the connected servers and their tools.
func (m *Manager) Servers() map[string]ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make(map[string]ServerInfo, len(m.conns))
	for name, conn := range m.conns {
		info := ServerInfo{Transport: string(conn.Transport()), Tools: []ToolInfo{}}
		for _, d := range conn.Tools() {
			info.Tools = append(info.Tools, ToolInfo{Name: d.Name, Description: d.Description})
		}
		sort.Slice(info.Tools, func(i, j int) bool { return info.Tools[i].Name < info.Tools[j].Name })
		ret[name] = info
	}
	return ret
}

// Close closes every connection. The first error is returned, all are logged.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for name, conn := range m.conns {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Str("server", name).Msg("Failed to close server connection")
			if first == nil {
				first = err
			}
		}
		m.registry.Unregister(name)
	}
	m.conns = map[string]ServerConnection{}
	return first
}
