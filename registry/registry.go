// Package registry resolves a workflow's symbolic class name to the
// constructor that builds its Body. The orchestrator consults a Registry
// once per run, after loading a workflow's record, to turn {class, args}
// into a runnable workflow.Body.
package registry

import (
	"fmt"
	"sync"

	"github.com/arashen/durable/workflow"
)

// Registry is a name -> workflow.Factory map. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]workflow.Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]workflow.Factory),
	}
}

// RegisterWorkflow associates class with factory. It is an error to register
// the same class name twice, or to pass a nil factory.
func (r *Registry) RegisterWorkflow(class string, factory workflow.Factory) error {
	if class == "" {
		return &ErrInvalidWorkflow{"workflow class name must not be empty"}
	}
	if factory == nil {
		return &ErrInvalidWorkflow{fmt.Sprintf("workflow %q: factory must not be nil", class)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[class]; ok {
		return &ErrWorkflowAlreadyRegistered{fmt.Sprintf("workflow class %q already registered", class)}
	}

	r.factories[class] = factory
	return nil
}

// Build resolves class and applies it to args, returning the instantiated
// Body. It returns *ErrClassNotFound if class was never registered.
func (r *Registry) Build(class string, args []byte) (workflow.Body, error) {
	r.mu.RLock()
	factory, ok := r.factories[class]
	r.mu.RUnlock()

	if !ok {
		return nil, &ErrClassNotFound{Class: class}
	}

	body, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("constructing workflow %q: %w", class, err)
	}

	return body, nil
}
