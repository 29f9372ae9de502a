// Package tool dispatches remote tool invocations with retry, classifying
// failures as transient or permanent and tracing every attempt.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Executor runs one named remote tool.
type Executor interface {
	// Name returns the tool identifier tasks reference via tool_name.
	Name() string

	// Execute performs one invocation attempt. Failures should be returned
	// as *Error so the client can decide whether to retry.
	Execute(ctx context.Context, params map[string]any) (json.RawMessage, error)
}

// Registry maps tool names to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor, rejecting duplicate names.
func (r *Registry) Register(exec Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := exec.Name()
	if name == "" {
		return fmt.Errorf("executor has no name")
	}
	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.executors[name] = exec
	return nil
}

// Get returns the executor for a tool name, or nil.
func (r *Registry) Get(name string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[name]
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
