package toolsurface

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"veritas/internal/apierr"
	"veritas/internal/logging"
)

// Registry holds every registered Tool, thread-safe for concurrent
// Dispatch calls from the stdio server's per-request goroutines.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Returns an error on an invalid or duplicate tool.
func (r *Registry) Register(t *Tool) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("toolsurface: invalid tool %q: %w", t.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister registers a tool and panics on error; used for the static
// registration list built at server startup.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a tool by name, or nil if unregistered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch validates params against the named tool's input schema, runs
// its handler, then sanitizes the result against its output schema. An
// unknown tool name, a schema violation, and a handler failure all return
// a structured *apierr.Error — nothing crosses this boundary as a raw Go
// error (spec.md §7).
func (r *Registry) Dispatch(ctx context.Context, name string, rawParams []byte) (any, *apierr.Error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, apierr.New(apierr.KindInvalidInput, fmt.Sprintf("unknown tool %q", name))
	}

	params, verr := tool.InputSchema.ValidateInput(rawParams)
	if verr != nil {
		return nil, verr
	}

	logging.ToolSurfaceDebug("dispatch %s", name)
	result, herr := tool.Handler(ctx, params)
	if herr != nil {
		return nil, herr
	}

	sanitized, err := SanitizeOutput(tool.OutputSchema, result)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvariant, "toolsurface: output sanitation failed", err)
	}
	return sanitized, nil
}
