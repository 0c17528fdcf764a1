package providers

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrProviderNotFound = errors.New("provider not found")

// Registry holds the configured providers and which one is current.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	current   string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: map[string]Provider{},
	}
}

// Register adds p. The first registered provider becomes current.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.current == "" {
		r.current = p.Name()
	}
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Wrapf(ErrProviderNotFound, "provider %s", name)
	}
	return p, nil
}

// Names returns the provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	ret := make([]string, 0, len(r.providers))
	for name := range r.providers {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Current returns the current provider and its name, nil when none is registered.
func (r *Registry) Current() (Provider, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[r.current], r.current
}

func (r *Registry) CurrentName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Use switches the current provider and returns the message shown to the user.
func (r *Registry) Use(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Sprintf("Provider '%s' not available. Use one of: %s", name, strings.Join(r.namesLocked(), ", ")), false
	}
	r.current = name
	log.Info().Str("provider", name).Msg("Switched provider")
	return fmt.Sprintf("Switched to %s provider", name), true
}

// ConvertTools hands the tool list to every provider.
func (r *Registry) ConvertTools(defs []tools.Definition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.namesLocked() {
		if err := r.providers[name].ConvertTools(defs); err != nil {
			return errors.Wrapf(err, "could not convert tools for %s", name)
		}
	}
	return nil
}

// Close releases the providers holding a client connection.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ret error
	for _, name := range r.namesLocked() {
		c, ok := r.providers[name].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("Failed to close provider")
			if ret == nil {
				ret = errors.Wrapf(err, "could not close %s", name)
			}
		}
	}
	return ret
}
