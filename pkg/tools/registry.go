package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type registration struct {
	definition Definition
	server     string
	executor   Executor
}

// Registry maps tool names to the server providing them. When two servers
// provide the same tool name, the last registration wins.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registration),
	}
}

func (r *Registry) Register(server string, def Definition, executor Executor) error {
	if def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if executor == nil {
		return errors.Errorf("tool %s has no executor", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.tools[def.Name]; ok && previous.server != server {
		log.Warn().
			Str("tool", def.Name).
			Str("previous_server", previous.server).
			Str("server", server).
			Msg("Tool provided by several servers, using the latest")
	}
	r.tools[def.Name] = registration{definition: def, server: server, executor: executor}
	return nil
}

// Unregister removes every tool of server.
func (r *Registry) Unregister(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, reg := range r.tools {
		if reg.server == server {
			delete(r.tools, name)
		}
	}
}

// Server returns the server providing name.
func (r *Registry) Server(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.server, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]string, 0, len(r.tools))
	for name := range r.tools {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Definitions returns the registered tools sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		ret = append(ret, reg.definition)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs name and returns the payload to store as the tool result:
// {"result": ...} on success, {"error": ...} on failure or for an unknown tool.
// Tool failures never surface as a Go error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) map[string]any {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		log.Error().Str("tool", name).Msg("Tool not found on any connected server")
		return NotAvailable(name, r.Names())
	}

	// warn only, the server validates again
	if err := ValidateArgs(reg.definition, args); err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("Tool arguments do not match the schema")
	}

	log.Info().Str("tool", name).Str("server", reg.server).Interface("args", args).Msg("Calling tool")
	result, err := reg.executor.CallTool(ctx, name, args)
	if err != nil {
		log.Error().Err(err).Str("tool", name).Str("server", reg.server).Msg("Tool execution failed")
		return Failure(err)
	}
	return Success(result)
}
